package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CredentialInfo describes a stored key without its value
type CredentialInfo struct {
	Provider string `json:"provider"`
	KeyName  string `json:"key_name"`
	Masked   string `json:"masked"`
}

// GetCredential returns the stored value, or "" when none is stored
func (s *Store) GetCredential(ctx context.Context, keyName, provider string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT key_value FROM api_keys WHERE key_name = ? AND provider = ?`,
		keyName, provider,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credential %s: %w", keyName, err)
	}
	return value, nil
}

// SetCredential stores or replaces a key
func (s *Store) SetCredential(ctx context.Context, keyName, provider, value string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (provider, key_name, key_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, key_name) DO UPDATE SET
			key_value = excluded.key_value,
			updated_at = excluded.updated_at
	`, provider, keyName, value, ts, ts)
	if err != nil {
		return fmt.Errorf("storing credential %s: %w", keyName, err)
	}
	return nil
}

// DeleteCredential removes a key; ErrNotFound when it was not stored
func (s *Store) DeleteCredential(ctx context.Context, keyName, provider string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE key_name = ? AND provider = ?`, keyName, provider)
	if err != nil {
		return fmt.Errorf("deleting credential %s: %w", keyName, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCredentials returns all stored keys with masked values
func (s *Store) ListCredentials(ctx context.Context) ([]CredentialInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, key_name, key_value FROM api_keys ORDER BY provider, key_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CredentialInfo
	for rows.Next() {
		var info CredentialInfo
		var value string
		if err := rows.Scan(&info.Provider, &info.KeyName, &value); err != nil {
			return nil, err
		}
		info.Masked = Mask(value)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Mask keeps the last four characters of a secret
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
