package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smailhq/smail/internal/domain"
	"github.com/smailhq/smail/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.MessageRepository    = (*Repository)(nil)
	_ repository.AttachmentRepository = (*Repository)(nil)
)

const uniqueViolation = "23505"

// CreateUser inserts an account row. A concurrent insert of the same email
// surfaces as repository.ErrDuplicate via the unique index.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, name, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.Name, user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// GetUserByEmail fetches a user by exact email match.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, name, created_at FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, name, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateMessages inserts every message inside one transaction. Used by send
// to keep the sent copy and a local-delivery inbox copy atomic.
func (r *Repository) CreateMessages(ctx context.Context, messages ...*domain.Message) error {
	const query = `INSERT INTO emails (id, from_user_id, from_email, to_email, subject, body, date, starred, read, folder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range messages {
		if _, err := tx.Exec(ctx, query, m.ID, m.FromUserID, m.FromEmail, m.ToEmail,
			m.Subject, m.Body, m.Date, m.Starred, m.Read, m.Folder, m.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetMessageByID fetches a single message regardless of ownership; access
// control happens in the service layer after the existence check.
func (r *Repository) GetMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	const query = `SELECT id, from_user_id, from_email, to_email, subject, body, date, starred, read, folder, created_at
		FROM emails WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var m domain.Message
	if err := row.Scan(&m.ID, &m.FromUserID, &m.FromEmail, &m.ToEmail, &m.Subject,
		&m.Body, &m.Date, &m.Starred, &m.Read, &m.Folder, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages visible to the address, newest first.
func (r *Repository) ListMessages(ctx context.Context, email string, filter repository.MessageFilter) ([]domain.Message, error) {
	query := `SELECT id, from_user_id, from_email, to_email, subject, body, date, starred, read, folder, created_at
		FROM emails
		WHERE (from_email = $1 OR to_email = $1)`
	args := []any{email}

	if filter.Folder != "" {
		args = append(args, filter.Folder)
		query += ` AND folder = $2`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		p := "$" + strconv.Itoa(len(args))
		query += ` AND (subject ILIKE ` + p + ` OR body ILIKE ` + p + ` OR from_email ILIKE ` + p + `)`
	}
	query += ` ORDER BY date DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.FromUserID, &m.FromEmail, &m.ToEmail, &m.Subject,
			&m.Body, &m.Date, &m.Starred, &m.Read, &m.Folder, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateMessage persists mutable flag and folder state.
func (r *Repository) UpdateMessage(ctx context.Context, message *domain.Message) error {
	const query = `UPDATE emails SET starred = $2, read = $3, folder = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, message.ID, message.Starred, message.Read, message.Folder)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteMessage permanently erases a row.
func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	const query = `DELETE FROM emails WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountByFolder aggregates folder totals for one mailbox in a single pass.
// Unread is restricted to the inbox by definition.
func (r *Repository) CountByFolder(ctx context.Context, email string) (domain.FolderCounts, error) {
	const query = `SELECT
			COUNT(*) FILTER (WHERE folder = 'inbox'),
			COUNT(*) FILTER (WHERE folder = 'inbox' AND NOT read),
			COUNT(*) FILTER (WHERE folder = 'sent'),
			COUNT(*) FILTER (WHERE folder = 'archive'),
			COUNT(*) FILTER (WHERE folder = 'trash')
		FROM emails
		WHERE from_email = $1 OR to_email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var counts domain.FolderCounts
	if err := row.Scan(&counts.Inbox, &counts.Unread, &counts.Sent, &counts.Archive, &counts.Trash); err != nil {
		return domain.FolderCounts{}, err
	}
	return counts, nil
}

// CreateAttachment stores an attachment descriptor.
func (r *Repository) CreateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	const query = `INSERT INTO attachments (id, email_id, filename, file_size, mime_type, file_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, attachment.ID, attachment.EmailID, attachment.Filename,
		attachment.FileSize, attachment.MimeType, attachment.FilePath, attachment.CreatedAt)
	return err
}

// ListAttachmentsByEmail returns attachment metadata for a message.
func (r *Repository) ListAttachmentsByEmail(ctx context.Context, emailID string) ([]domain.Attachment, error) {
	const query = `SELECT id, email_id, filename, file_size, mime_type, file_path, created_at
		FROM attachments WHERE email_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := make([]domain.Attachment, 0)
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Filename, &a.FileSize, &a.MimeType, &a.FilePath, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
