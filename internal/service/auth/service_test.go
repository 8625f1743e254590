package auth

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/smailhq/smail/internal/config"
	"github.com/smailhq/smail/internal/domain"
	"github.com/smailhq/smail/internal/repository"
)

type userRepoStub struct {
	users map[string]*domain.User // keyed by email
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{users: make(map[string]*domain.User)}
}

func (s *userRepoStub) CreateUser(ctx context.Context, user *domain.User) error {
	if _, ok := s.users[user.Email]; ok {
		return repository.ErrDuplicate
	}
	s.users[user.Email] = user
	return nil
}

func (s *userRepoStub) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func newService(repo repository.UserRepository) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, log, config.Config{JWTSecret: "test-secret"})
}

func TestRegisterDuplicateEmailFails(t *testing.T) {
	svc := newService(newUserRepoStub())
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "ann@smail.com", "hunter2", "Ann"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, _, err := svc.Register(ctx, "ann@smail.com", "other", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	// login keeps working after the failed duplicate attempt
	if _, _, err := svc.Login(ctx, "ann@smail.com", "hunter2"); err != nil {
		t.Fatalf("login after duplicate register: %v", err)
	}
}

func TestRegisterDefaultsNameToLocalPart(t *testing.T) {
	svc := newService(newUserRepoStub())
	user, _, err := svc.Register(context.Background(), "bob@smail.com", "pw", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Name != "bob" {
		t.Fatalf("expected default name %q, got %q", "bob", user.Name)
	}
}

func TestRegisterRequiresEmailAndPassword(t *testing.T) {
	svc := newService(newUserRepoStub())
	if _, _, err := svc.Register(context.Background(), "", "pw", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "x@y.z", "", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestLoginFailureIsUniform(t *testing.T) {
	repo := newUserRepoStub()
	svc := newService(repo)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "ann@smail.com", "hunter2", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, unknownErr := svc.Login(ctx, "nobody@smail.com", "hunter2")
	_, _, wrongErr := svc.Login(ctx, "ann@smail.com", "wrong")
	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("login failures must be indistinguishable: %q vs %q", unknownErr, wrongErr)
	}
}

func TestAuthorizeResolvesTokenSubject(t *testing.T) {
	svc := newService(newUserRepoStub())
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "ann@smail.com", "hunter2", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resolved, err := svc.Authorize(ctx, token)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("expected user %q, got %q", user.ID, resolved.ID)
	}
}

func TestAuthorizeRejectsMissingSubject(t *testing.T) {
	repo := newUserRepoStub()
	svc := newService(repo)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "gone@smail.com", "pw", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	delete(repo.users, user.Email)

	if _, err := svc.Authorize(ctx, token); err == nil {
		t.Fatal("expected error for deleted account")
	}
}

func TestAuthorizeRejectsTamperedToken(t *testing.T) {
	svc := newService(newUserRepoStub())
	if _, err := svc.Authorize(context.Background(), "not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := svc.Authorize(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank token")
	}
}
