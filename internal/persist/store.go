// Package persist implements the durable position and daily-stats documents
// with atomic writes and single-generation backups.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"order_router/internal/core"
)

const (
	positionsFile  = "positions.json"
	dailyStatsFile = "daily_stats.json"
	cooldownsFile  = "cooldowns.json"
)

// FileStore is a core.StateStore backed by JSON files in a single directory.
// Every save goes through temp-file + fsync + backup rotation + atomic
// rename, so a crash at any point leaves either the old or the new document
// intact.
type FileStore struct {
	dir    string
	logger core.ILogger
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string, logger core.ILogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.WithField("component", "persist")}, nil
}

// SavePositions durably writes the positions document.
func (s *FileStore) SavePositions(positions map[string]*core.Position) error {
	return s.saveDoc(positionsFile, positions)
}

// LoadPositions reads the positions document, falling back to the backup on
// absence or corruption. A missing store yields an empty map.
func (s *FileStore) LoadPositions() (map[string]*core.Position, error) {
	positions := make(map[string]*core.Position)
	if err := s.loadDoc(positionsFile, &positions); err != nil {
		return nil, err
	}
	if positions == nil {
		positions = make(map[string]*core.Position)
	}
	return positions, nil
}

// SaveDailyStats durably writes the daily-stats document.
func (s *FileStore) SaveDailyStats(doc *core.DailyStatsDoc) error {
	return s.saveDoc(dailyStatsFile, doc)
}

// LoadDailyStats reads the daily-stats document. Returns nil with no error
// when neither primary nor backup exists.
func (s *FileStore) LoadDailyStats() (*core.DailyStatsDoc, error) {
	var doc *core.DailyStatsDoc
	if err := s.loadDoc(dailyStatsFile, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveCooldowns durably writes the symbol cooldown expiries.
func (s *FileStore) SaveCooldowns(cooldowns map[string]time.Time) error {
	return s.saveDoc(cooldownsFile, cooldowns)
}

// LoadCooldowns reads the cooldown document; missing yields an empty map.
func (s *FileStore) LoadCooldowns() (map[string]time.Time, error) {
	cooldowns := make(map[string]time.Time)
	if err := s.loadDoc(cooldownsFile, &cooldowns); err != nil {
		return nil, err
	}
	if cooldowns == nil {
		cooldowns = make(map[string]time.Time)
	}
	return cooldowns, nil
}

// saveDoc writes v to name via: marshal -> temp file in the same directory
// -> fsync -> rotate current file to .bak -> rename temp over primary.
func (s *FileStore) saveDoc(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	// One backup generation: the last known-good document.
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, target+".bak"); err != nil {
			return fmt.Errorf("failed to rotate backup for %s: %w", name, err)
		}
	}

	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// loadDoc reads name into v, trying the primary first and the .bak on
// absence or corruption. Never fails: when both are unreadable the best
// recoverable state is an empty document, logged as a degradation.
func (s *FileStore) loadDoc(name string, v interface{}) error {
	target := filepath.Join(s.dir, name)

	primaryErr := readJSON(target, v)
	if primaryErr == nil {
		return nil
	}
	if !os.IsNotExist(primaryErr) {
		s.logger.Warn("Primary document unreadable, trying backup", "doc", name, "error", primaryErr)
	}

	backupErr := readJSON(target+".bak", v)
	if backupErr == nil {
		if !os.IsNotExist(primaryErr) {
			s.logger.Warn("Recovered document from backup", "doc", name)
		}
		return nil
	}

	// Best recoverable state is empty: surfaces as a fresh document rather
	// than a startup failure.
	if !os.IsNotExist(primaryErr) || !os.IsNotExist(backupErr) {
		s.logger.Error("Both primary and backup unreadable, starting empty",
			"doc", name, "primary_error", primaryErr, "backup_error", backupErr)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt document %s: %w", filepath.Base(path), err)
	}
	return nil
}
