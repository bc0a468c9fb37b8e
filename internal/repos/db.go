package repos

import (
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05.000000"

func now() string { return time.Now().UTC().Format(timeLayout) }

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases alive across calls and
	// serialises writers the way sqlite expects.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Users & Sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

-- Listings
CREATE TABLE IF NOT EXISTS listings(
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  description TEXT NOT NULL,
  price INTEGER NOT NULL CHECK (price >= 0),
  picture TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_user ON listings(user_id);
`
	_, err := db.Exec(schema)
	return err
}

// SeedUsers ensures the demo accounts exist (idempotent).
func SeedUsers(db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, Hash string
	}
	mk := func(id, email, name, raw string) (u, error) {
		h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		return u{ID: id, Email: email, Name: name, Hash: string(h)}, err
	}

	seeds := [][3]string{
		{"u-alice", "alice@musicmarket.test", "Alice"},
		{"u-bob", "bob@musicmarket.test", "Bob"},
		{"u-carol", "carol@musicmarket.test", "Carol"},
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range seeds {
		x, err := mk(s[0], s[1], s[2], "Passw0rd!")
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,password_hash)
			VALUES(?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, x.ID, x.Email, x.Name, x.Hash); err != nil {
			return err
		}
	}

	return tx.Commit()
}
