// ABOUTME: SQLite implementation of the ticket Repository using modernc.org/sqlite
// ABOUTME: Schema bootstrap with a partial unique index enforcing one open ticket per user

package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRepository opens (or creates) the ticket database at path.
// Parent directories are created if needed; the schema is bootstrapped
// automatically.
func NewSQLiteRepository(path string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ticket")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL improves concurrent reader behavior under webhook load
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	r := &SQLiteRepository{db: db, logger: logger}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ticket repository initialized", "path", path)
	return r, nil
}

func (r *SQLiteRepository) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tickets (
			ref            TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			status         TEXT NOT NULL,
			subject        TEXT NOT NULL,
			assigned_agent TEXT NOT NULL DEFAULT '',
			claimed_at     TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (status IN ('open', 'closed', 'resolved'))
		);

		-- At most one open ticket per user
		CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_user
			ON tickets(user_id) WHERE status = 'open';

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);

		CREATE TABLE IF NOT EXISTS ticket_comments (
			id         TEXT PRIMARY KEY,
			ticket_ref TEXT NOT NULL,
			author     TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (ticket_ref) REFERENCES tickets(ref)
		);

		CREATE INDEX IF NOT EXISTS idx_comments_ticket
			ON ticket_comments(ticket_ref, created_at);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) CloseDB() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Create(ctx context.Context, t *Ticket) error {
	query := `
		INSERT INTO tickets (ref, user_id, status, subject, assigned_agent, claimed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.Ref,
		t.UserID,
		t.Status,
		t.Subject,
		t.AssignedAgent,
		formatNullableTime(t.ClaimedAt),
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isOpenTicketViolation(err) {
			return ErrDuplicateOpen
		}
		return fmt.Errorf("inserting ticket: %w", err)
	}

	r.logger.Debug("created ticket", "ref", t.Ref, "user_id", t.UserID)
	return nil
}

// Get retrieves a ticket by ref. Returns ErrNotFound if it doesn't exist.
func (r *SQLiteRepository) Get(ctx context.Context, ref string) (*Ticket, error) {
	query := `
		SELECT ref, user_id, status, subject, assigned_agent, claimed_at, created_at, updated_at
		FROM tickets
		WHERE ref = ?
	`
	return r.scanTicket(r.db.QueryRowContext(ctx, query, ref))
}

// FindOpenByUser retrieves the user's open ticket, or ErrNotFound.
func (r *SQLiteRepository) FindOpenByUser(ctx context.Context, userID string) (*Ticket, error) {
	query := `
		SELECT ref, user_id, status, subject, assigned_agent, claimed_at, created_at, updated_at
		FROM tickets
		WHERE user_id = ? AND status = 'open'
	`
	return r.scanTicket(r.db.QueryRowContext(ctx, query, userID))
}

// Close moves an open ticket into a terminal status. Returns
// ErrTicketClosed if the ticket is not open, ErrNotFound if absent.
func (r *SQLiteRepository) Close(ctx context.Context, ref, status string) error {
	if status != StatusClosed && status != StatusResolved {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = ?, updated_at = ?
		WHERE ref = ? AND status = 'open'
	`, status, time.Now().UTC().Format(time.RFC3339), ref)
	if err != nil {
		return fmt.Errorf("closing ticket: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking close result: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, ref); err != nil {
			return err
		}
		return ErrTicketClosed
	}

	r.logger.Debug("closed ticket", "ref", ref, "status", status)
	return nil
}

// Assign sets the ticket's operator and claim time. Only open tickets
// can be assigned.
func (r *SQLiteRepository) Assign(ctx context.Context, ref, operator string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET assigned_agent = ?, claimed_at = ?, updated_at = ?
		WHERE ref = ? AND status = 'open'
	`, operator, now, now, ref)
	if err != nil {
		return fmt.Errorf("assigning ticket: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking assign result: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, ref); err != nil {
			return err
		}
		return ErrTicketClosed
	}
	return nil
}

func (r *SQLiteRepository) AddComment(ctx context.Context, c *Comment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_comments (id, ticket_ref, author, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.TicketRef, c.Author, c.Body, c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListComments(ctx context.Context, ref string, limit int) ([]*Comment, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_ref, author, body, created_at
		FROM ticket_comments
		WHERE ticket_ref = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		var c Comment
		var createdAtStr string
		if err := rows.Scan(&c.ID, &c.TicketRef, &c.Author, &c.Body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		c.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func (r *SQLiteRepository) ListOpen(ctx context.Context, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ref, user_id, status, subject, assigned_agent, claimed_at, created_at, updated_at
		FROM tickets
		WHERE status = 'open'
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying open tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanTicket(row *sql.Row) (*Ticket, error) {
	t, err := scanTicketRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func scanTicketRow(row rowScanner) (*Ticket, error) {
	var t Ticket
	var claimedAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&t.Ref,
		&t.UserID,
		&t.Status,
		&t.Subject,
		&t.AssignedAgent,
		&claimedAt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning ticket: %w", err)
	}

	if claimedAt.Valid && claimedAt.String != "" {
		ts, err := time.Parse(time.RFC3339, claimedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing claimed_at: %w", err)
		}
		t.ClaimedAt = &ts
	}
	t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &t, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// isOpenTicketViolation checks specifically for the one-open-ticket-per-user
// index; other constraint failures (primary key, status CHECK) are not
// duplicates and must surface as plain errors.
func isOpenTicketViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "idx_tickets_open_user")
}
