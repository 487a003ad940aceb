package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alloybuild/orchestrator/internal/model"
)

// InsertUser persists a new user account.
func (s *Store) InsertUser(u model.User) error {
	_, err := s.conn.Exec(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail loads a user by email, used by login.
func (s *Store) GetUserByEmail(email string) (model.User, error) {
	row := s.conn.QueryRow(`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUser loads a user by id.
func (s *Store) GetUser(id string) (model.User, error) {
	row := s.conn.QueryRow(`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row scanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// InsertAPIKey persists a new API key record (only the hash, never raw
// key material).
func (s *Store) InsertAPIKey(k model.ApiKey) error {
	_, err := s.conn.Exec(`INSERT INTO api_keys (id, user_id, name, key_hash, created_at, last_used_at) VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.CreatedAt, nullableTime(k.LastUsedAt))
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its stored hash, used to
// authenticate `ApiKey {raw}` requests.
func (s *Store) GetAPIKeyByHash(hash string) (model.ApiKey, error) {
	row := s.conn.QueryRow(`SELECT id, user_id, name, key_hash, created_at, last_used_at FROM api_keys WHERE key_hash = ?`, hash)
	return scanAPIKey(row)
}

// ListAPIKeys returns the API keys belonging to a user.
func (s *Store) ListAPIKeys(userID string) ([]model.ApiKey, error) {
	rows, err := s.conn.Query(`SELECT id, user_id, name, key_hash, created_at, last_used_at FROM api_keys WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ApiKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DeleteAPIKey removes an API key owned by userID.
func (s *Store) DeleteAPIKey(id, userID string) error {
	res, err := s.conn.Exec(`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// TouchAPIKey records that an API key was just used.
func (s *Store) TouchAPIKey(id string) error {
	_, err := s.conn.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func scanAPIKey(row scanner) (model.ApiKey, error) {
	var k model.ApiKey
	var lastUsed sql.NullTime
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ApiKey{}, ErrNotFound
		}
		return model.ApiKey{}, fmt.Errorf("scan api key: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return k, nil
}
