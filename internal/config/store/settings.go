package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Setting keys persisted by the bridge.
const (
	KeyHost            = "vts.host"
	KeyPort            = "vts.port"
	KeyPluginName      = "plugin.name"
	KeyPluginDeveloper = "plugin.developer"
	KeyTrackerAddr     = "tracker.addr"
	KeySendInterval    = "poller.interval"
	KeyCurve           = "mapper.curve"
)

// BridgeSettings is the resolved bridge configuration.
type BridgeSettings struct {
	Host            string
	Port            int
	PluginName      string
	PluginDeveloper string
	TrackerAddr     string
	SendInterval    time.Duration
	Curve           string
}

// Defaults for a fresh store.
var defaultSettings = map[string]string{
	KeyHost:            "127.0.0.1",
	KeyPort:            "8001",
	KeyPluginName:      "facebridge",
	KeyPluginDeveloper: "facebridge-ai",
	KeyTrackerAddr:     ":21412",
	KeySendInterval:    "100ms",
	KeyCurve:           "linear",
}

// LoadSettings returns all stored key/value settings.
func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}
	return result, nil
}

// GetSetting returns a single value or NotFoundError.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", NotFoundError{Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: get setting %q: %w", key, err)
	}
	return value, nil
}

// SaveSettings upserts the provided key/value pairs.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (key, value, updated_at)
            VALUES (?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, key, value); err != nil {
				return fmt.Errorf("config: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// LoadBridgeSettings resolves the typed bridge configuration, filling in
// defaults for keys that were never saved.
func (s *Store) LoadBridgeSettings(ctx context.Context) (BridgeSettings, error) {
	stored, err := s.LoadSettings(ctx)
	if err != nil {
		return BridgeSettings{}, err
	}

	get := func(key string) string {
		if v, ok := stored[key]; ok && v != "" {
			return v
		}
		return defaultSettings[key]
	}

	port, err := strconv.Atoi(get(KeyPort))
	if err != nil {
		return BridgeSettings{}, fmt.Errorf("config: invalid port %q: %w", get(KeyPort), err)
	}
	interval, err := time.ParseDuration(get(KeySendInterval))
	if err != nil {
		return BridgeSettings{}, fmt.Errorf("config: invalid interval %q: %w", get(KeySendInterval), err)
	}

	return BridgeSettings{
		Host:            get(KeyHost),
		Port:            port,
		PluginName:      get(KeyPluginName),
		PluginDeveloper: get(KeyPluginDeveloper),
		TrackerAddr:     get(KeyTrackerAddr),
		SendInterval:    interval,
		Curve:           get(KeyCurve),
	}, nil
}
