// Package subscribers keeps the newsletter subscriber list in a local SQLite database.
package subscribers

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/greenleafcpa/greenleaf-web/internal/forms"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// Subscriber is one row of the list.
type Subscriber struct {
	Email        string
	ClientIP     string
	SubmissionID string
	SubscribedAt time.Time
}

// Store is a SQLite-backed subscriber list. Emails are unique case-insensitively.
type Store struct {
	db *sql.DB
}

var _ forms.Sink = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, xerrors.New("subscribers: path is required")
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, "open sqlite")
	}
	// one writer avoids SQLITE_BUSY under concurrent form posts
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL COLLATE NOCASE UNIQUE,
			client_ip TEXT NOT NULL DEFAULT '',
			submission_id TEXT NOT NULL DEFAULT '',
			subscribed_at INTEGER NOT NULL -- unix millis
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subscribers_subscribed_at ON subscribers(subscribed_at);`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(err, "subscribers migration failed")
		}
	}
	return nil
}

// Add inserts sub unless the email is already present. added reports whether a row was written.
func (s *Store) Add(ctx context.Context, sub Subscriber) (added bool, err error) {
	email := strings.TrimSpace(sub.Email)
	if email == "" {
		return false, xerrors.New("subscribers: email is required")
	}
	ts := sub.SubscribedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(email, client_ip, submission_id, subscribed_at) VALUES(?,?,?,?)
		 ON CONFLICT(email) DO NOTHING`,
		email, sub.ClientIP, sub.SubmissionID, ts.UnixMilli())
	if err != nil {
		return false, xerrors.Wrap(err, "insert subscriber")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(err, "insert subscriber rows affected")
	}
	return n > 0, nil
}

// Count returns the number of subscribers.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n); err != nil {
		return 0, xerrors.Wrap(err, "count subscribers")
	}
	return n, nil
}

// Deliver records a subscribe submission. Repeat subscriptions succeed without a new row.
// Other forms are ignored.
func (s *Store) Deliver(ctx context.Context, sub forms.Submission) error {
	if sub.Form != forms.FormSubscribe {
		return nil
	}
	_, err := s.Add(ctx, Subscriber{
		Email:        sub.Email,
		ClientIP:     sub.ClientIP,
		SubmissionID: sub.ID,
		SubscribedAt: sub.ReceivedAt,
	})
	return err
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
