// Package guildstore persists per-guild settings in SQLite.
package guildstore

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	zlog "github.com/rs/zerolog/log"
)

const schema = `CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (guild_id, key)
)`

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

// Store is a key/value settings table keyed by guild.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	db.SetMaxOpenConns(4)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %s", p)
		}
	}
	if _, err := db.ExecContext(initCtx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create guild_settings")
	}

	zlog.Info().Msgf("guildstore: opened: path=%s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored value and whether it exists.
func (s *Store) Get(ctx context.Context, guildID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM guild_settings WHERE guild_id = ? AND key = ?", guildID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read %s for guild %s", key, guildID)
	}
	return value, true, nil
}

// Set stores value, replacing any previous one.
func (s *Store) Set(ctx context.Context, guildID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, guildID, key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s for guild %s", key, guildID)
	}
	return nil
}

// Delete removes a setting. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, guildID, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM guild_settings WHERE guild_id = ? AND key = ?", guildID, key); err != nil {
		return errors.Wrapf(err, "failed to delete %s for guild %s", key, guildID)
	}
	return nil
}

// All returns every setting of a guild.
func (s *Store) All(ctx context.Context, guildID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM guild_settings WHERE guild_id = ? ORDER BY key", guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list settings for guild %s", guildID)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "failed to scan setting")
		}
		out[k] = v
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate settings")
}

// String returns the setting or def when it is unset or unreadable.
func (s *Store) String(ctx context.Context, guildID, key, def string) string {
	v, ok, err := s.Get(ctx, guildID, key)
	if err != nil {
		zlog.Warn().Err(err).Msgf("guildstore: falling back to default: guild=%s key=%s", guildID, key)
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Int returns the setting as an integer, or def when it is unset or not a number.
func (s *Store) Int(ctx context.Context, guildID, key string, def int) int {
	v := s.String(ctx, guildID, key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		zlog.Warn().Msgf("guildstore: not an integer: guild=%s key=%s value=%q", guildID, key, v)
		return def
	}
	return n
}
