package market

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"order_router/internal/core"
)

// FileStore persists closed candles as JSON-lines files, one file per
// symbol and timeframe, and rehydrates buffers on startup.
type FileStore struct {
	dir    string
	logger core.ILogger
}

// NewFileStore creates the candle directory if needed.
func NewFileStore(dir string, logger core.ILogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create candle dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.WithField("component", "candle_store")}, nil
}

func (s *FileStore) path(symbol string, tf Timeframe) string {
	name := strings.ReplaceAll(symbol, "/", "_")
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.jsonl", name, tf))
}

// Append writes one candle as a JSON line.
func (s *FileStore) Append(symbol string, tf Timeframe, c core.Candle) error {
	f, err := os.OpenFile(s.path(symbol, tf), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal candle: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append candle: %w", err)
	}
	return nil
}

// Load reads persisted candles for a symbol/timeframe, dropping entries
// older than maxAge and skipping corrupt lines. Returns candles in file
// order, which is append order.
func (s *FileStore) Load(symbol string, tf Timeframe, maxAge time.Duration) ([]core.Candle, error) {
	f, err := os.Open(s.path(symbol, tf))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-maxAge)
	var candles []core.Candle
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c core.Candle
		if err := json.Unmarshal(line, &c); err != nil {
			s.logger.Warn("Skipping corrupt candle line", "symbol", symbol, "tf", string(tf), "error", err)
			continue
		}
		if maxAge > 0 && c.Timestamp.Before(cutoff) {
			continue
		}
		candles = append(candles, c)
	}
	if err := scanner.Err(); err != nil {
		return candles, fmt.Errorf("failed to read candle file: %w", err)
	}
	return candles, nil
}

// Rehydrate loads persisted candles for every symbol into the buffer set.
// Append order preserves idempotency, so a partially rehydrated buffer can
// safely receive live candles afterwards.
func (s *FileStore) Rehydrate(set *BufferSet, symbols []string, maxAge time.Duration) {
	for _, sym := range symbols {
		for _, tf := range []Timeframe{Timeframe1m, Timeframe5m} {
			candles, err := s.Load(sym, tf, maxAge)
			if err != nil {
				s.logger.Warn("Candle rehydration failed", "symbol", sym, "tf", string(tf), "error", err)
				continue
			}
			for _, c := range candles {
				set.Append(sym, tf, c)
			}
			if len(candles) > 0 {
				s.logger.Info("Rehydrated candles", "symbol", sym, "tf", string(tf), "count", len(candles))
			}
		}
	}
}

// Prune rewrites each candle file keeping only entries newer than maxAge,
// and deletes files whose newest entry is older than that. Runs on the
// maintenance clock.
func (s *FileStore) Prune(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list candle dir: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if err := s.pruneFile(filepath.Join(s.dir, entry.Name()), cutoff); err != nil {
			s.logger.Warn("Candle prune failed", "file", entry.Name(), "error", err)
		}
	}
	return nil
}

func (s *FileStore) pruneFile(path string, cutoff time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	var kept [][]byte
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		total++
		line := scanner.Bytes()
		var c core.Candle
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		if c.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return scanErr
	}

	if len(kept) == total {
		return nil
	}
	if len(kept) == 0 {
		return os.Remove(path)
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, line := range kept {
		if _, err := out.Write(append(line, '\n')); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
