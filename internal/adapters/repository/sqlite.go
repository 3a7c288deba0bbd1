package repository

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

	"github.com/okian/birdscore/internal/adapters/repository/migrations"
	"github.com/okian/birdscore/internal/domain/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	defaultBusyTimeout = 5 * time.Second
	defaultListLimit   = 100

	keyToken = "token"
	keyUser  = "user"
)

// SQLiteStore persists credentials and sessions in one SQLite file.
type SQLiteStore struct {
	db          *sql.DB
	busyTimeout time.Duration
}

var _ Store = (*SQLiteStore)(nil)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	s := &SQLiteStore{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		filepath.Clean(path), s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer per device; a single connection keeps SQLite from
	// returning SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s.db = db
	return s, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var n int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// ------------------------------------------------------------------ credentials

// LoadCredentials implements CredentialStore.
func (s *SQLiteStore) LoadCredentials(ctx context.Context) (string, []byte, error) {
	if err := s.ready(ctx); err != nil {
		return "", nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM credentials`)
	if err != nil {
		return "", nil, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	var token, user string
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return "", nil, fmt.Errorf("scan credentials: %w", err)
		}
		switch k {
		case keyToken:
			token = v
		case keyUser:
			user = v
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("load credentials: %w", err)
	}
	if token == "" || user == "" {
		return "", nil, ErrNotFound
	}
	return token, []byte(user), nil
}

// SaveCredentials implements CredentialStore. Both values are written in one transaction.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, token string, user []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO credentials (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, keyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, keyUser, string(user)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return tx.Commit()
}

// ClearCredentials implements CredentialStore.
func (s *SQLiteStore) ClearCredentials(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// ------------------------------------------------------------------ sessions

// Create implements SessionStore.
func (s *SQLiteStore) Create(ctx context.Context, cs *model.CompetitionSession) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO sessions (
		   session_id, match_name, cage_number, owner, created_at, updated_at,
		   total_rounds, current_round, status, version
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.SessionID, cs.MatchName, cs.CageNumber, cs.Owner,
		toMillis(cs.CreatedAt), toMillis(cs.UpdatedAt),
		cs.TotalRounds, cs.CurrentRound, string(cs.Status), cs.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	if err := insertRounds(ctx, tx, cs.SessionID, cs.Rounds); err != nil {
		return err
	}
	return tx.Commit()
}

// Get implements SessionStore. The session row and its rounds are read in
// one transaction so the result is a state that existed at a single instant.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*model.CompetitionSession, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT session_id, match_name, cage_number, owner, created_at,
		updated_at, total_rounds, current_round, status, version
		FROM sessions WHERE session_id = ?`, sessionID)
	cs, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if cs.Rounds, err = loadRounds(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	return cs, nil
}

// Update implements SessionStore.
func (s *SQLiteStore) Update(ctx context.Context, cs *model.CompetitionSession, expectVersion int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE sessions
		SET current_round = ?, status = ?, version = ?, updated_at = ?
		WHERE session_id = ? AND version = ?`,
		cs.CurrentRound, string(cs.Status), cs.Version, toMillis(cs.UpdatedAt),
		cs.SessionID, expectVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE session_id = ?`, cs.SessionID).Scan(&exists); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err := insertRounds(ctx, tx, cs.SessionID, cs.Rounds); err != nil {
		return err
	}
	return tx.Commit()
}

// List implements SessionStore.
func (s *SQLiteStore) List(ctx context.Context, f model.SessionFilter) ([]*model.CompetitionSession, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, f.Owner)
	}
	if f.MatchName != "" {
		where = append(where, "LOWER(match_name) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(f.MatchName))+"%")
	}
	if f.CageNumber != "" {
		where = append(where, "cage_number = ?")
		args = append(args, strings.ToUpper(strings.TrimSpace(f.CageNumber)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `SELECT session_id, match_name, cage_number, owner, created_at,
		updated_at, total_rounds, current_round, status, version FROM sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, session_id DESC LIMIT ?"
	args = append(args, limit)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []*model.CompetitionSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	_ = rows.Close()

	// Rounds are loaded after the cursor is closed, inside the same snapshot.
	for _, cs := range out {
		if cs.Rounds, err = loadRounds(ctx, tx, cs.SessionID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountOpen implements SessionStore.
func (s *SQLiteStore) CountOpen(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE status != ?`, string(model.StatusCompleted)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func loadRounds(ctx context.Context, tx *sql.Tx, sessionID string) ([]model.Round, error) {
	rows, err := tx.QueryContext(ctx, `SELECT round_no, score, submitted_at, submitted_by
		FROM rounds WHERE session_id = ? ORDER BY round_no ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}
	defer rows.Close()

	rounds := []model.Round{}
	for rows.Next() {
		var (
			r     model.Round
			score string
			at    int64
		)
		if err := rows.Scan(&r.RoundNo, &score, &at, &r.SubmittedBy); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.Score = json.RawMessage(score)
		r.SubmittedAt = fromMillis(at)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.CompetitionSession, error) {
	var (
		cs                 model.CompetitionSession
		status             string
		created, updatedAt int64
	)
	if err := row.Scan(&cs.SessionID, &cs.MatchName, &cs.CageNumber, &cs.Owner, &created,
		&updatedAt, &cs.TotalRounds, &cs.CurrentRound, &status, &cs.Version); err != nil {
		return nil, err
	}
	cs.Status = model.Status(status)
	cs.CreatedAt = fromMillis(created)
	cs.UpdatedAt = fromMillis(updatedAt)
	cs.Rounds = []model.Round{}
	return &cs, nil
}

// insertRounds appends rounds; rows already stored are left untouched.
func insertRounds(ctx context.Context, tx *sql.Tx, sessionID string, rounds []model.Round) error {
	for _, r := range rounds {
		score := string(r.Score)
		if score == "" {
			score = "null"
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO rounds (session_id, round_no, score, submitted_at, submitted_by)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT (session_id, round_no) DO NOTHING`,
			sessionID, r.RoundNo, score, toMillis(r.SubmittedAt), r.SubmittedBy); err != nil {
			return fmt.Errorf("insert round %d: %w", r.RoundNo, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
