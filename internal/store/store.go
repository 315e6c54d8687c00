// Package store persists the wallet fleet in sqlite. The store owns every
// Wallet; workflows operate on working copies and re-fetch after any proxy
// mutation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	ProxyStatusOK  = "OK"
	ProxyStatusBad = "BAD"
)

// Wallet is one imported account. PrivateKey is write-once at import time
// and must never appear in logs; Proxy is the only field mutated during
// normal operation.
type Wallet struct {
	ID          int64
	PrivateKey  string
	PublicKey   string
	Proxy       string
	UserAgent   string
	ProxyStatus string
}

func (w Wallet) String() string { return w.PublicKey }

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wallet store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create wallet lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open wallet sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS wallets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			private_key TEXT NOT NULL UNIQUE,
			public_key TEXT NOT NULL UNIQUE,
			proxy TEXT,
			user_agent TEXT NOT NULL,
			proxy_status TEXT NOT NULL DEFAULT 'OK'
		);`,
		"CREATE INDEX IF NOT EXISTS idx_wallets_proxy_status ON wallets(proxy_status);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init wallet schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add inserts a wallet, reporting false without error when the key is
// already imported.
func (s *Store) Add(w Wallet) (bool, error) {
	if strings.TrimSpace(w.PrivateKey) == "" || strings.TrimSpace(w.PublicKey) == "" {
		return false, fmt.Errorf("add wallet: missing key material")
	}
	unlock, err := s.acquireLock()
	if err != nil {
		return false, err
	}
	defer unlock()

	status := w.ProxyStatus
	if status == "" {
		status = ProxyStatusOK
	}
	_, err = s.db.Exec(
		"INSERT INTO wallets (private_key, public_key, proxy, user_agent, proxy_status) VALUES (?, ?, ?, ?, ?)",
		w.PrivateKey, w.PublicKey, w.Proxy, w.UserAgent, status,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return false, nil
		}
		return false, fmt.Errorf("add wallet: %w", err)
	}
	return true, nil
}

func (s *Store) ListAll() ([]Wallet, error) {
	return s.list("SELECT id, private_key, public_key, proxy, user_agent, proxy_status FROM wallets ORDER BY id")
}

// ListBadProxy returns wallets whose proxy is marked BAD, for the sweep
// command.
func (s *Store) ListBadProxy() ([]Wallet, error) {
	return s.list("SELECT id, private_key, public_key, proxy, user_agent, proxy_status FROM wallets WHERE proxy_status = 'BAD' ORDER BY id")
}

func (s *Store) list(query string) ([]Wallet, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	wallets := make([]Wallet, 0)
	for rows.Next() {
		var w Wallet
		var proxy sql.NullString
		if err := rows.Scan(&w.ID, &w.PrivateKey, &w.PublicKey, &proxy, &w.UserAgent, &w.ProxyStatus); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		w.Proxy = proxy.String
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

func (s *Store) Get(id int64) (Wallet, error) {
	var w Wallet
	var proxy sql.NullString
	err := s.db.QueryRow(
		"SELECT id, private_key, public_key, proxy, user_agent, proxy_status FROM wallets WHERE id = ?", id,
	).Scan(&w.ID, &w.PrivateKey, &w.PublicKey, &proxy, &w.UserAgent, &w.ProxyStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, fmt.Errorf("wallet not found: %d", id)
		}
		return Wallet{}, fmt.Errorf("read wallet: %w", err)
	}
	w.Proxy = proxy.String
	return w, nil
}

// UpdateProxy assigns a new proxy and resets the status to OK in one write.
func (s *Store) UpdateProxy(id int64, newProxy string) (bool, error) {
	unlock, err := s.acquireLock()
	if err != nil {
		return false, err
	}
	defer unlock()

	res, err := s.db.Exec("UPDATE wallets SET proxy = ?, proxy_status = 'OK' WHERE id = ?", newProxy, id)
	if err != nil {
		return false, fmt.Errorf("update proxy: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) MarkProxyBad(id int64) (bool, error) {
	unlock, err := s.acquireLock()
	if err != nil {
		return false, err
	}
	defer unlock()

	res, err := s.db.Exec("UPDATE wallets SET proxy_status = 'BAD' WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("mark proxy bad: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) acquireLock() (func(), error) {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("lock wallet store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock wallet store: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}
