package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the production Store backed by PostgreSQL. Write serialization
// and id assignment are delegated to the database: message ids come from a
// BIGSERIAL column, profile upserts use ON CONFLICT DO UPDATE.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to PostgreSQL using the given DSN, verifies the
// connection, and applies any pending schema migrations. The returned store
// is ready for use.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres ping: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// migrate applies the embedded schema migrations, creating the messages and
// profiles tables when absent. Running against an up-to-date schema is a
// no-op.
func (p *Postgres) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}

	driver, err := pgmigrate.WithInstance(p.db, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// AppendMessage inserts a chat message and returns the database-assigned id.
// The BIGSERIAL sequence guarantees ids are unique and strictly increasing
// in commit order, even under concurrent appends.
func (p *Postgres) AppendMessage(ctx context.Context, sender, text, timestamp string) (int64, error) {
	const query = `
		INSERT INTO messages (sender, message, timestamp)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	if err := p.db.QueryRowContext(ctx, query, sender, text, timestamp).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: append message: %w", err)
	}
	return id, nil
}

// ListMessages returns the full message log in ascending id order.
func (p *Postgres) ListMessages(ctx context.Context) ([]Message, error) {
	const query = `
		SELECT id, sender, message, timestamp
		FROM messages
		ORDER BY id ASC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

// UpsertProfile inserts or fully replaces a profile by id.
func (p *Postgres) UpsertProfile(ctx context.Context, profile Profile) error {
	const query = `
		INSERT INTO profiles (id, name, avatar, pseudo)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name   = EXCLUDED.name,
			avatar = EXCLUDED.avatar,
			pseudo = EXCLUDED.pseudo`

	if _, err := p.db.ExecContext(ctx, query, profile.ID, profile.Name, profile.Avatar, profile.Pseudo); err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// ListProfiles returns all stored profiles keyed by id.
func (p *Postgres) ListProfiles(ctx context.Context) (map[string]Profile, error) {
	const query = `SELECT id, name, avatar, pseudo FROM profiles`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]Profile)
	for rows.Next() {
		var prof Profile
		if err := rows.Scan(&prof.ID, &prof.Name, &prof.Avatar, &prof.Pseudo); err != nil {
			return nil, fmt.Errorf("store: scan profile: %w", err)
		}
		profiles[prof.ID] = prof
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list profiles: %w", err)
	}
	return profiles, nil
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}
