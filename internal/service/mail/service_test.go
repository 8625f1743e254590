package mail

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/smailhq/smail/internal/domain"
	"github.com/smailhq/smail/internal/repository"
)

type messageRepoStub struct {
	messages map[string]*domain.Message
	batches  [][]*domain.Message
}

func newMessageRepoStub() *messageRepoStub {
	return &messageRepoStub{messages: make(map[string]*domain.Message)}
}

func (s *messageRepoStub) CreateMessages(ctx context.Context, messages ...*domain.Message) error {
	for _, m := range messages {
		copied := *m
		s.messages[m.ID] = &copied
	}
	s.batches = append(s.batches, messages)
	return nil
}

func (s *messageRepoStub) GetMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	if m, ok := s.messages[id]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *messageRepoStub) ListMessages(ctx context.Context, email string, filter repository.MessageFilter) ([]domain.Message, error) {
	out := make([]domain.Message, 0)
	for _, m := range s.messages {
		if !m.Owner(email) {
			continue
		}
		if filter.Folder != "" && m.Folder != filter.Folder {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *messageRepoStub) UpdateMessage(ctx context.Context, message *domain.Message) error {
	if _, ok := s.messages[message.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *message
	s.messages[message.ID] = &copied
	return nil
}

func (s *messageRepoStub) DeleteMessage(ctx context.Context, id string) error {
	if _, ok := s.messages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *messageRepoStub) CountByFolder(ctx context.Context, email string) (domain.FolderCounts, error) {
	var counts domain.FolderCounts
	for _, m := range s.messages {
		if !m.Owner(email) {
			continue
		}
		switch m.Folder {
		case domain.FolderInbox:
			counts.Inbox++
			if !m.Read {
				counts.Unread++
			}
		case domain.FolderSent:
			counts.Sent++
		case domain.FolderArchive:
			counts.Archive++
		case domain.FolderTrash:
			counts.Trash++
		}
	}
	return counts, nil
}

type userLookupStub struct {
	byEmail map[string]*domain.User
}

func (s userLookupStub) CreateUser(ctx context.Context, user *domain.User) error { return nil }

func (s userLookupStub) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (s userLookupStub) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

type attachmentRepoStub struct {
	byEmail map[string][]domain.Attachment
}

func (s attachmentRepoStub) CreateAttachment(ctx context.Context, a *domain.Attachment) error {
	return nil
}

func (s attachmentRepoStub) ListAttachmentsByEmail(ctx context.Context, emailID string) ([]domain.Attachment, error) {
	return s.byEmail[emailID], nil
}

func testUser(email string) *domain.User {
	return &domain.User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
}

func newTestService(messages *messageRepoStub, users userLookupStub) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(messages, users, attachmentRepoStub{}, log)
}

func TestSendRequiresRecipientAndSubject(t *testing.T) {
	svc := newTestService(newMessageRepoStub(), userLookupStub{})
	sender := testUser("ann@smail.com")

	if _, err := svc.Send(context.Background(), sender, "", "hi", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields for empty to, got %v", err)
	}
	if _, err := svc.Send(context.Background(), sender, "bob@smail.com", " ", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields for blank subject, got %v", err)
	}
}

func TestSendExternalRecipientCreatesSentCopyOnly(t *testing.T) {
	repo := newMessageRepoStub()
	svc := newTestService(repo, userLookupStub{byEmail: map[string]*domain.User{}})
	sender := testUser("ann@smail.com")

	sent, err := svc.Send(context.Background(), sender, "someone@example.com", "hello", "body")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(repo.messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(repo.messages))
	}
	if sent.Folder != domain.FolderSent || !sent.Read {
		t.Fatalf("sent copy should be read in sent folder, got folder=%q read=%v", sent.Folder, sent.Read)
	}
	if sent.FromUserID != sender.ID {
		t.Fatalf("sent copy bound to %q, want sender %q", sent.FromUserID, sender.ID)
	}
}

func TestSendLocalRecipientCreatesInboxCopy(t *testing.T) {
	repo := newMessageRepoStub()
	recipient := testUser("bob@smail.com")
	svc := newTestService(repo, userLookupStub{byEmail: map[string]*domain.User{recipient.Email: recipient}})
	sender := testUser("ann@smail.com")

	sent, err := svc.Send(context.Background(), sender, "bob@smail.com", "hello", "body")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(repo.messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(repo.messages))
	}
	if len(repo.batches) != 1 || len(repo.batches[0]) != 2 {
		t.Fatalf("both copies must be written in one batch, got %d batches", len(repo.batches))
	}
	if sent.Folder != domain.FolderSent {
		t.Fatalf("returned copy must be the sent one, got folder %q", sent.Folder)
	}

	var inbox *domain.Message
	for _, m := range repo.messages {
		if m.Folder == domain.FolderInbox {
			inbox = m
		}
	}
	if inbox == nil {
		t.Fatal("expected an inbox copy")
	}
	if inbox.Read {
		t.Fatal("inbox copy must start unread")
	}
	// the inbox copy keeps the sender's user id; visibility comes from to_email
	if inbox.FromUserID != sender.ID {
		t.Fatalf("inbox copy bound to %q, want sender %q", inbox.FromUserID, sender.ID)
	}
	if inbox.ID == sent.ID {
		t.Fatal("copies must be independent rows")
	}
}

func TestGetDistinguishesMissingFromForeign(t *testing.T) {
	repo := newMessageRepoStub()
	svc := newTestService(repo, userLookupStub{})
	owner := testUser("ann@smail.com")
	stranger := testUser("eve@smail.com")

	msg := &domain.Message{ID: uuid.NewString(), FromEmail: owner.Email, ToEmail: "bob@smail.com", Folder: domain.FolderSent}
	if err := repo.CreateMessages(context.Background(), msg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Get(context.Background(), owner, "no-such-id"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), stranger, msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(context.Background(), owner, msg.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
}

func TestRecipientSeesMessageByEmailMatch(t *testing.T) {
	repo := newMessageRepoStub()
	svc := newTestService(repo, userLookupStub{})
	recipient := testUser("bob@smail.com")

	msg := &domain.Message{ID: uuid.NewString(), FromEmail: "ann@smail.com", ToEmail: recipient.Email, Folder: domain.FolderInbox}
	if err := repo.CreateMessages(context.Background(), msg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Get(context.Background(), recipient, msg.ID); err != nil {
		t.Fatalf("recipient get: %v", err)
	}
}

func TestUpdatePatchesOnlyProvidedFields(t *testing.T) {
	repo := newMessageRepoStub()
	svc := newTestService(repo, userLookupStub{})
	owner := testUser("ann@smail.com")

	msg := &domain.Message{ID: uuid.NewString(), FromEmail: owner.Email, ToEmail: "bob@smail.com", Folder: domain.FolderInbox, Read: true}
	if err := repo.CreateMessages(context.Background(), msg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	starred := true
	updated, err := svc.Update(context.Background(), owner, msg.ID, UpdateInput{Starred: &starred})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Starred {
		t.Fatal("starred not applied")
	}
	if !updated.Read || updated.Folder != domain.FolderInbox {
		t.Fatalf("untouched fields changed: read=%v folder=%q", updated.Read, updated.Folder)
	}

	// folder accepts arbitrary strings
	folder := "receipts"
	updated, err = svc.Update(context.Background(), owner, msg.ID, UpdateInput{Folder: &folder})
	if err != nil {
		t.Fatalf("update folder: %v", err)
	}
	if updated.Folder != "receipts" {
		t.Fatalf("expected open folder value, got %q", updated.Folder)
	}
}

func TestDeleteIsTwoPhase(t *testing.T) {
	repo := newMessageRepoStub()
	svc := newTestService(repo, userLookupStub{})
	owner := testUser("ann@smail.com")
	ctx := context.Background()

	msg := &domain.Message{ID: uuid.NewString(), FromEmail: owner.Email, ToEmail: "bob@smail.com", Folder: domain.FolderInbox}
	if err := repo.CreateMessages(ctx, msg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	trashed, purged, err := svc.Delete(ctx, owner, msg.ID)
	if err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if purged {
		t.Fatal("first delete must be a soft delete")
	}
	if trashed.Folder != domain.FolderTrash {
		t.Fatalf("expected trash folder, got %q", trashed.Folder)
	}
	if _, err := svc.Get(ctx, owner, msg.ID); err != nil {
		t.Fatalf("trashed message must stay retrievable: %v", err)
	}

	_, purged, err = svc.Delete(ctx, owner, msg.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if !purged {
		t.Fatal("second delete must purge")
	}
	if _, err := svc.Get(ctx, owner, msg.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after purge, got %v", err)
	}
}

func TestCountsReflectFolderState(t *testing.T) {
	repo := newMessageRepoStub()
	svc := newTestService(repo, userLookupStub{})
	owner := testUser("ann@smail.com")
	ctx := context.Background()

	seed := func(folder string, read bool) {
		m := &domain.Message{ID: uuid.NewString(), FromEmail: "x@y.z", ToEmail: owner.Email, Folder: folder, Read: read}
		if err := repo.CreateMessages(ctx, m); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(domain.FolderInbox, true)
	seed(domain.FolderInbox, true)
	seed(domain.FolderInbox, false)
	seed(domain.FolderSent, true)
	seed(domain.FolderSent, true)
	seed(domain.FolderTrash, false)

	counts, err := svc.Counts(ctx, owner)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := domain.FolderCounts{Inbox: 3, Unread: 1, Sent: 2, Archive: 0, Trash: 1}
	if counts != want {
		t.Fatalf("unexpected counts %+v, want %+v", counts, want)
	}
}
