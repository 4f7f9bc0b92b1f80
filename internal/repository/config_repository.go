package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/JustinTDCT/MetaFix/internal/crypto"
	"github.com/JustinTDCT/MetaFix/internal/models"
)

// Keys stored encrypted at rest. Everything else is plaintext.
var secretKeys = map[string]bool{
	"plex_token":     true,
	"fanart_api_key": true,
	"mediux_api_key": true,
	"tmdb_api_key":   true,
	"tvdb_api_key":   true,
}

var defaultProviderPriority = []string{"fanart", "mediux", "tmdb", "tvdb", "plex"}

type ConfigRepository struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

func NewConfigRepository(db *sql.DB, cipher *crypto.Cipher) *ConfigRepository {
	return &ConfigRepository{db: db, cipher: cipher}
}

// Get retrieves a config value by key, decrypting secret keys transparently.
// Returns empty string if not found.
func (r *ConfigRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if secretKeys[key] {
		return r.cipher.Decrypt(value), nil
	}
	return value, nil
}

// Set upserts a config key-value pair, encrypting secret keys transparently.
func (r *ConfigRepository) Set(key, value string) error {
	encrypted := false
	if secretKeys[key] && value != "" {
		ciphertext, err := r.cipher.Encrypt(value)
		if err != nil {
			return err
		}
		value = ciphertext
		encrypted = true
	}
	query := `INSERT INTO config (key, value, encrypted, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = $2, encrypted = $3, updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.Exec(query, key, value, encrypted)
	return err
}

// Delete removes a config key.
func (r *ConfigRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM config WHERE key = $1`, key)
	return err
}

// IsSecret reports whether a key is stored encrypted. Secret values are
// never echoed back through the API.
func IsSecret(key string) bool {
	return secretKeys[key]
}

// Entries lists all config rows. Secret values come back blank; callers see
// only that they are set.
func (r *ConfigRepository) Entries() ([]models.ConfigEntry, error) {
	rows, err := r.db.Query(`SELECT key, value, updated_at FROM config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ConfigEntry
	for rows.Next() {
		var e models.ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if secretKeys[e.Key] {
			e.Encrypted = true
			e.Value = ""
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PlexConnection returns the saved server URL and decrypted token.
func (r *ConfigRepository) PlexConnection() (serverURL, token string, err error) {
	if serverURL, err = r.Get("plex_url"); err != nil {
		return "", "", err
	}
	if token, err = r.Get("plex_token"); err != nil {
		return "", "", err
	}
	return serverURL, token, nil
}

// SavePlexConnection stores the server URL, token, and friendly name.
func (r *ConfigRepository) SavePlexConnection(serverURL, token, serverName string) error {
	if err := r.Set("plex_url", serverURL); err != nil {
		return err
	}
	if err := r.Set("plex_token", token); err != nil {
		return err
	}
	return r.Set("plex_server_name", serverName)
}

// ProviderKey returns the decrypted API key for a provider, or "".
func (r *ConfigRepository) ProviderKey(provider string) (string, error) {
	return r.Get(provider + "_api_key")
}

// ProviderPriority returns the configured provider order, or the default.
func (r *ConfigRepository) ProviderPriority() ([]string, error) {
	raw, err := r.Get("provider_priority")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return defaultProviderPriority, nil
	}
	var priority []string
	if err := json.Unmarshal([]byte(raw), &priority); err != nil || len(priority) == 0 {
		return defaultProviderPriority, nil
	}
	return priority, nil
}

// SetProviderPriority stores the provider order as JSON.
func (r *ConfigRepository) SetProviderPriority(priority []string) error {
	raw, err := json.Marshal(priority)
	if err != nil {
		return err
	}
	return r.Set("provider_priority", string(raw))
}
