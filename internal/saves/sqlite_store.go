package saves

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"farmledger/internal/identity"
	"farmledger/internal/record"
	"farmledger/internal/saves/migrations"

	_ "modernc.org/sqlite"
)

const migrationTable = "schema_migrations"

// SQLiteStore persists each record as one JSON document per (user, player) row.
type SQLiteStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens the database at path and applies the embedded migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, now: time.Now}, nil
}

// applyMigrations runs every *.sql file in fsys at most once, in name order.
func applyMigrations(sqlDB *sql.DB, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, toMillis(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between the Up and Down markers.
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}

func (s *SQLiteStore) List(ctx context.Context, uid string) ([]record.Node, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT data FROM saves WHERE user_id = ? ORDER BY player_id`, uid)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	defer rows.Close()

	out := []record.Node{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan save: %w", err)
		}
		n, err := record.DecodeNode([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode save: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, uid, playerID string) (record.Node, error) {
	return getSave(ctx, s.sqlDB, uid, playerID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSave(ctx context.Context, q queryer, uid, playerID string) (record.Node, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM saves WHERE user_id = ? AND player_id = ?`, uid, playerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get save: %w", err)
	}
	return record.DecodeNode([]byte(data))
}

const upsertSave = `INSERT INTO saves (user_id, player_id, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id, player_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

func (s *SQLiteStore) Put(ctx context.Context, uid string, players []record.Node) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(s.now())
	for _, p := range players {
		id := strings.TrimSpace(p.Text(IDKey))
		if id == "" {
			return ErrMissingID
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertSave, uid, id, string(data), now); err != nil {
			return fmt.Errorf("put save %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Patch(ctx context.Context, uid, playerID string, patch record.Node) (record.Node, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getSave(ctx, tx, uid, playerID)
	if err != nil {
		return nil, err
	}
	merged, err := applyPatch(current, patch, playerID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, upsertSave, uid, playerID, string(data), toMillis(s.now())); err != nil {
		return nil, fmt.Errorf("patch save %s: %w", playerID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, uid, playerID string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM saves WHERE user_id = ? AND player_id = ?`, uid, playerID)
	return err
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, uid string) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM saves WHERE user_id = ?`, uid)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (identity.User, bool, error) {
	var (
		u         identity.User
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, display_name, cookie_secret, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.CookieSecret, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, false, nil
	}
	if err != nil {
		return identity.User{}, false, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, true, nil
}

func (s *SQLiteStore) PutUser(ctx context.Context, u identity.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, display_name, cookie_secret, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, cookie_secret = excluded.cookie_secret`,
		u.ID, u.DisplayName, u.CookieSecret, toMillis(created))
	return err
}

// DeleteUser removes the account and every record it owns.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM saves WHERE user_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
