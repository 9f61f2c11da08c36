package subscription

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/rqlite/gorqlite/stdlib"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists active subscriptions.
type Store interface {
	Save(ctx context.Context, sub *ActiveSubscription) error
	Get(ctx context.Context, id string) (*ActiveSubscription, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*ActiveSubscription, error)
	Close() error
}

// SQLStore is a Store on database/sql. It runs on rqlite through the gorqlite
// driver or on a local sqlite3 file.
type SQLStore struct {
	db     *sql.DB
	logger *logging.ColoredLogger
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens the configured database and applies migrations.
func OpenSQLStore(ctx context.Context, cfg config.StoreConfig, logger *logging.ColoredLogger) (*SQLStore, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if cfg.Driver == config.DriverSQLite3 {
		// sqlite allows one writer; a single connection also keeps
		// :memory: databases shared.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Driver, err)
	}

	s := NewSQLStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. Call Migrate before use.
func NewSQLStore(db *sql.DB, logger *logging.ColoredLogger) *SQLStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SQLStore{db: db, logger: logger}
}

type migrationFile struct {
	Version int
	Name    string
}

// Migrate applies the embedded schema migrations not yet recorded in
// schema_migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	applied_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	files, err := readMigrationFiles(fsys)
	if err != nil {
		return fmt.Errorf("read embedded migration files: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	for _, mf := range files {
		if applied[mf.Version] {
			s.logger.ComponentDebug(logging.ComponentStore, "Migration already applied; skipping",
				zap.Int("version", mf.Version), zap.String("name", mf.Name))
			continue
		}

		script, err := fs.ReadFile(fsys, mf.Name)
		if err != nil {
			return fmt.Errorf("read embedded migration %s: %w", mf.Name, err)
		}
		for _, stmt := range splitStatements(string(script)) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", mf.Version, mf.Name, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations(version) VALUES (?)`, mf.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", mf.Version, err)
		}
		s.logger.ComponentInfo(logging.ComponentStore, "Migration applied",
			zap.Int("version", mf.Version), zap.String("name", mf.Name))
	}
	return nil
}

func (s *SQLStore) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func readMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var out []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		i := 0
		for i < len(name) && unicode.IsDigit(rune(name[i])) {
			i++
		}
		ver, err := strconv.Atoi(name[:i])
		if err != nil {
			continue
		}
		out = append(out, migrationFile{Version: ver, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// splitStatements splits a migration script on semicolons, dropping "--"
// comment lines. Migrations here never put semicolons inside literals.
func splitStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

const selectColumns = `id, channel_type, endpoint, routing_key, criteria, headers, channel_name, created_at, updated_at`

// Save inserts or replaces sub.
func (s *SQLStore) Save(ctx context.Context, sub *ActiveSubscription) error {
	headers, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	if sub.Headers == nil {
		headers = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO subscriptions (`+selectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	channel_type = excluded.channel_type,
	endpoint     = excluded.endpoint,
	routing_key  = excluded.routing_key,
	criteria     = excluded.criteria,
	headers      = excluded.headers,
	channel_name = excluded.channel_name,
	updated_at   = excluded.updated_at`,
		sub.ID, string(sub.Type), sub.Endpoint, sub.RoutingKey, sub.Criteria, string(headers), sub.Channel,
		formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ID, err)
	}
	return nil
}

// Get returns the subscription with id or a NotFoundError.
func (s *SQLStore) Get(ctx context.Context, id string) (*ActiveSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get subscription %s: %w", id, err)
		}
		return nil, apperrors.NewNotFoundError("subscription", id)
	}
	return scanSubscription(rows)
}

// Delete removes the subscription with id or returns a NotFoundError.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("subscription", id)
	}
	return nil
}

// List returns every subscription ordered by creation time.
func (s *SQLStore) List(ctx context.Context) ([]*ActiveSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM subscriptions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*ActiveSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func scanSubscription(rows *sql.Rows) (*ActiveSubscription, error) {
	var (
		sub                  ActiveSubscription
		typ, headers         string
		createdAt, updatedAt string
	)
	if err := rows.Scan(&sub.ID, &typ, &sub.Endpoint, &sub.RoutingKey, &sub.Criteria, &headers, &sub.Channel, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Type = channel.ChannelType(typ)
	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &sub.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of %s: %w", sub.ID, err)
		}
	}
	sub.CreatedAt = parseTime(createdAt)
	sub.UpdatedAt = parseTime(updatedAt)
	return &sub, nil
}

// Timestamps are stored as RFC 3339 text so both drivers round-trip them
// without type conversion.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
