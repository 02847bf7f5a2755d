package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PutPayload stores or replaces a raw payload blob.
func (db *DB) PutPayload(key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("put payload: empty key")
	}
	if len(data) == 0 {
		return fmt.Errorf("put payload: empty data")
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO payloads (key, data, content_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = ?, content_type = ?, created_at = ?
	`, key, data, contentType, now, data, contentType, now)
	if err != nil {
		return fmt.Errorf("put payload: %w", err)
	}
	return nil
}

// GetPayload returns a payload blob, or nil if absent.
func (db *DB) GetPayload(key string) ([]byte, error) {
	var data []byte
	err := db.QueryRow("SELECT data FROM payloads WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}
	return data, nil
}

// PayloadSize returns the stored size of a payload in bytes, 0 if absent.
func (db *DB) PayloadSize(key string) (int64, error) {
	var size sql.NullInt64
	err := db.QueryRow("SELECT LENGTH(data) FROM payloads WHERE key = ?", key).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("payload size: %w", err)
	}
	return size.Int64, nil
}

// DeletePayload removes a payload blob, returning the bytes freed.
func (db *DB) DeletePayload(key string) (int64, error) {
	size, err := db.PayloadSize(key)
	if err != nil {
		return 0, err
	}
	if _, err := db.Exec("DELETE FROM payloads WHERE key = ?", key); err != nil {
		return 0, fmt.Errorf("delete payload: %w", err)
	}
	return size, nil
}
