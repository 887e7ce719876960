package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ragchat/internal/model"
)

const (
	storesKey         = "ragStores"
	historyKeyPrefix  = "chatHistory_"
	defaultBusyMillis = 5000
)

// SQLiteStore keeps whole JSON documents in a key/value table. Every write
// replaces the previous value for its key.
type SQLiteStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA busy_timeout=%d;`, defaultBusyMillis)); err != nil {
		_ = db.Close()
		return err
	}

	schema := `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_unix INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// HistoryKey returns the kv key holding the transcript of storeName.
func HistoryKey(storeName string) string {
	return historyKeyPrefix + storeName
}

func (s *SQLiteStore) LoadStores(ctx context.Context) ([]model.RagStore, error) {
	var stores []model.RagStore
	found, err := s.getJSON(ctx, storesKey, &stores)
	if err != nil {
		return nil, fmt.Errorf("load rag stores: %w", err)
	}
	if !found || stores == nil {
		return []model.RagStore{}, nil
	}
	return stores, nil
}

func (s *SQLiteStore) SaveStores(ctx context.Context, stores []model.RagStore) error {
	if stores == nil {
		stores = []model.RagStore{}
	}
	if err := s.putJSON(ctx, storesKey, stores); err != nil {
		return fmt.Errorf("save rag stores: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, storeName string) ([]model.ChatMessage, error) {
	if strings.TrimSpace(storeName) == "" {
		return nil, errors.New("store name is required")
	}
	var history []model.ChatMessage
	found, err := s.getJSON(ctx, HistoryKey(storeName), &history)
	if err != nil {
		return nil, fmt.Errorf("load chat history for %s: %w", storeName, err)
	}
	if !found || history == nil {
		return []model.ChatMessage{}, nil
	}
	return history, nil
}

func (s *SQLiteStore) SaveHistory(ctx context.Context, storeName string, history []model.ChatMessage) error {
	if strings.TrimSpace(storeName) == "" {
		return errors.New("store name is required")
	}
	if history == nil {
		history = []model.ChatMessage{}
	}
	if err := s.putJSON(ctx, HistoryKey(storeName), history); err != nil {
		return fmt.Errorf("save chat history for %s: %w", storeName, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteHistory(ctx context.Context, storeName string) error {
	return s.Delete(ctx, HistoryKey(storeName))
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return false, err
	}
	var raw string
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) putJSON(ctx context.Context, key string, value any) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO kv(key, value, updated_unix)
		 VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value=excluded.value,
		   updated_unix=excluded.updated_unix`,
		key,
		string(payload),
		time.Now().Unix(),
	)
	return err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) ensureDB(ctx context.Context) (*sql.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("sqlite db not initialized")
	}
	return s.db, nil
}
