// Package sqlstore is a relational durable tier for the memory store. It
// speaks MySQL in production and SQLite for local runs and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"travel-assistant/internal/domain"
	"travel-assistant/internal/memory"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// MySQL error numbers for objects that are already present.
const (
	errTableExists    = 1050
	errDuplicateIndex = 1061
)

// Store implements the durable tier on database/sql.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	logger      *zap.Logger
	provisioned atomic.Bool
}

// Open prepares the pool and tries to provision the schema. An unreachable
// server is not an error: the schema is provisioned by the first successful
// Ping. For SQLite the dsn is a file path and its parent directory is
// created.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case MySQL:
		cfg, perr := mysql.ParseDSN(dsn)
		if perr != nil {
			return nil, fmt.Errorf("sqlstore: parse mysql dsn: %w", perr)
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = 5 * time.Second
		}
		db, err = sql.Open("mysql", cfg.FormatDSN())
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			db.SetConnMaxIdleTime(time.Minute)
		}
	case SQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlstore: create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	s := &Store{db: db, dialect: dialect, logger: logger.Named("sqlstore")}
	if err := s.Ping(ctx); err != nil {
		s.logger.Warn("database not reachable at startup", zap.Error(err))
	}
	return s, nil
}

func (s *Store) Name() string { return string(s.dialect) }

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection and provisions the schema the first time the
// server answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: ping: %w", err)
	}
	if s.provisioned.Load() {
		return nil
	}
	return s.Provision(ctx)
}

func (s *Store) schema() []string {
	switch s.dialect {
	case MySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS user_profiles (
				user_id VARCHAR(191) NOT NULL PRIMARY KEY,
				destinations JSON,
				activities JSON,
				pace VARCHAR(32) NOT NULL DEFAULT '',
				last_updated BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversation_turns (
				id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				turn_id VARCHAR(64) NOT NULL UNIQUE,
				user_id VARCHAR(191) NOT NULL,
				role VARCHAR(16) NOT NULL,
				text MEDIUMTEXT NOT NULL,
				metadata JSON,
				created_at BIGINT NOT NULL
			)`,
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS user_profiles (
				user_id TEXT NOT NULL PRIMARY KEY,
				destinations TEXT,
				activities TEXT,
				pace TEXT NOT NULL DEFAULT '',
				last_updated INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversation_turns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				turn_id TEXT NOT NULL UNIQUE,
				user_id TEXT NOT NULL,
				role TEXT NOT NULL,
				text TEXT NOT NULL,
				metadata TEXT,
				created_at INTEGER NOT NULL
			)`,
		}
	}
}

var indexes = []string{
	`CREATE INDEX idx_turns_user_created ON conversation_turns (user_id, created_at)`,
}

// Provision creates tables and indexes. Running it again is a no-op.
func (s *Store) Provision(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !alreadyExists(err) {
			return fmt.Errorf("sqlstore: provision: %w", err)
		}
	}
	for _, stmt := range indexes {
		_, err := s.db.ExecContext(ctx, stmt)
		switch {
		case err == nil:
			s.logger.Info("index created", zap.String("stmt", stmt))
		case alreadyExists(err):
			s.logger.Debug("index already present", zap.String("stmt", stmt))
		default:
			return fmt.Errorf("sqlstore: provision index: %w", err)
		}
	}
	s.provisioned.Store(true)
	return nil
}

func alreadyExists(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errTableExists || me.Number == errDuplicateIndex
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func (s *Store) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	p, ok, err := getProfile(ctx, s.db, userID, "")
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("sqlstore: get profile: %w", err)
	}
	return p, ok, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProfile(ctx context.Context, q querier, userID, suffix string) (domain.UserProfile, bool, error) {
	var (
		dest, acts sql.NullString
		pace       string
		updated    int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT destinations, activities, pace, last_updated FROM user_profiles WHERE user_id = ?`+suffix,
		userID).Scan(&dest, &acts, &pace, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, false, nil
	}
	if err != nil {
		return domain.UserProfile{}, false, err
	}
	p := domain.UserProfile{
		UserID:      userID,
		TravelPace:  domain.TravelPace(pace),
		LastUpdated: time.Unix(0, updated).UTC(),
	}
	if p.DestinationsOfInterest, err = decodeList(dest); err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("decode destinations: %w", err)
	}
	if p.ActivityPreferences, err = decodeList(acts); err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("decode activities: %w", err)
	}
	return p, true, nil
}

// MergeProfile reads, applies and writes back inside one transaction. MySQL
// locks the row for the duration.
func (s *Store) MergeProfile(ctx context.Context, userID string, update domain.ProfileUpdate, now time.Time) (domain.UserProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if s.dialect == MySQL {
		lock = " FOR UPDATE"
	}
	current, found, err := getProfile(ctx, tx, userID, lock)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlstore: merge profile: %w", err)
	}
	if !found {
		current = domain.UserProfile{UserID: userID}
	}
	merged := update.Apply(current, now)

	dest, err := encodeList(merged.DestinationsOfInterest)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlstore: encode destinations: %w", err)
	}
	acts, err := encodeList(merged.ActivityPreferences)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlstore: encode activities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.upsertProfileSQL(),
		userID, dest, acts, string(merged.TravelPace), merged.LastUpdated.UnixNano()); err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlstore: upsert profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return merged, nil
}

func (s *Store) upsertProfileSQL() string {
	const insert = `INSERT INTO user_profiles (user_id, destinations, activities, pace, last_updated) VALUES (?, ?, ?, ?, ?)`
	if s.dialect == MySQL {
		return insert + ` ON DUPLICATE KEY UPDATE destinations = VALUES(destinations), activities = VALUES(activities),
			pace = VALUES(pace), last_updated = VALUES(last_updated)`
	}
	return insert + ` ON CONFLICT(user_id) DO UPDATE SET destinations = excluded.destinations,
		activities = excluded.activities, pace = excluded.pace, last_updated = excluded.last_updated`
}

// AppendTurn inserts the turn. A turn id that is already stored is ignored so
// retried writes stay idempotent.
func (s *Store) AppendTurn(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.TurnID == "" || turn.UserID == "" {
		return errors.New("sqlstore: turn id and user id are required")
	}
	var meta any
	if len(turn.Metadata) > 0 {
		raw, err := json.Marshal(turn.Metadata)
		if err != nil {
			return fmt.Errorf("sqlstore: encode metadata: %w", err)
		}
		meta = string(raw)
	}

	stmt := `INSERT INTO conversation_turns (turn_id, user_id, role, text, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if s.dialect == MySQL {
		stmt = strings.Replace(stmt, "INSERT INTO", "INSERT IGNORE INTO", 1)
	} else {
		stmt += ` ON CONFLICT(turn_id) DO NOTHING`
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		turn.TurnID, turn.UserID, string(turn.Role), turn.Text, meta, turn.CreatedAt.UTC().UnixNano()); err != nil {
		return fmt.Errorf("sqlstore: append turn: %w", err)
	}
	return nil
}

// RecentTurns returns at most limit turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, role, text, metadata, created_at FROM conversation_turns
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query turns: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationTurn
	for rows.Next() {
		var (
			t       domain.ConversationTurn
			role    string
			meta    sql.NullString
			created int64
		)
		if err := rows.Scan(&t.TurnID, &role, &t.Text, &meta, &created); err != nil {
			return nil, fmt.Errorf("sqlstore: scan turn: %w", err)
		}
		t.UserID = userID
		t.Role = domain.Role(role)
		t.CreatedAt = time.Unix(0, created).UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
				s.logger.Warn("skipping turn metadata", zap.String("turn_id", t.TurnID), zap.Error(err))
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate turns: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func encodeList(in []string) (any, error) {
	if in == nil {
		return nil, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func decodeList(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ memory.DurableTier = (*Store)(nil)
