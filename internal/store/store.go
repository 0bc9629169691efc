// Package store owns the on-disk representations of the monitor's entities:
// the product catalog, store profiles, monitor state and the append-only
// price history log.
package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// File names inside the data directory. The admin surface reads and writes
// the same files.
const (
	productsFile = "products.json"
	profilesFile = "profiles.json"
	stateFile    = "state.json"
	historyFile  = "price_history.csv"
)

var historyHeader = []string{"timestamp", "product_name", "old_price", "new_price", "url"}

// Store loads and persists entity files from a single data directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New verifies the data directory exists (creating it if needed) and is
// writable, mirroring the startup precondition contract.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("data path %s is not a directory", dir)
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create data directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat data directory: %w", err)
	}

	probe := filepath.Join(dir, ".writable_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("data directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up write probe: %w", err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

// LoadProducts reads the product catalog. A missing file yields an empty
// catalog; a corrupt file is reset rather than crashing the process.
func (s *Store) LoadProducts() ([]monitor.Product, error) {
	var products []monitor.Product
	if err := s.loadJSON(productsFile, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// LoadProfiles reads the store-profile map keyed by store name.
func (s *Store) LoadProfiles() (map[string]monitor.StoreProfile, error) {
	profiles := map[string]monitor.StoreProfile{}
	if err := s.loadJSON(profilesFile, &profiles); err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = map[string]monitor.StoreProfile{}
	}
	return profiles, nil
}

// LoadState reads the persisted monitor state map.
func (s *Store) LoadState() (monitor.StateMap, error) {
	states := monitor.StateMap{}
	if err := s.loadJSON(stateFile, &states); err != nil {
		return nil, err
	}
	if states == nil {
		states = monitor.StateMap{}
	}
	return states, nil
}

// SaveState atomically replaces the state file: the new content is written to
// a temp file and renamed over the old one, so a crash never leaves a
// half-written state file.
func (s *Store) SaveState(states monitor.StateMap) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	target := filepath.Join(s.dir, stateFile)
	tmp, err := os.CreateTemp(s.dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// AppendHistory appends one confirmed price change to the CSV log, writing
// the fixed header when the file is created.
func (s *Store) AppendHistory(entry monitor.PriceHistoryEntry) error {
	path := filepath.Join(s.dir, historyFile)
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(historyHeader); err != nil {
			return fmt.Errorf("write history header: %w", err)
		}
	}
	record := []string{
		entry.Timestamp.Format(time.DateTime),
		entry.ProductName,
		entry.OldPrice.StringFixed(2),
		entry.NewPrice.StringFixed(2),
		entry.URL,
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write history record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush history log: %w", err)
	}
	return nil
}

// loadJSON decodes a file into dst. Absent files leave dst untouched; corrupt
// files are logged, reset to the zero document and treated as empty.
func (s *Store) loadJSON(name string, dst any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("corrupt entity file, resetting to empty",
			zap.String("file", name),
			zap.Error(err),
		)
		if wrErr := os.WriteFile(path, []byte(emptyDocument(dst)), 0o600); wrErr != nil {
			s.logger.Warn("reset of corrupt entity file failed", zap.String("file", name), zap.Error(wrErr))
		}
		// A type-level failure can leave dst partially filled; the in-memory
		// view must match the reset file.
		v := reflect.ValueOf(dst).Elem()
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	return nil
}

func emptyDocument(dst any) string {
	switch dst.(type) {
	case *[]monitor.Product:
		return "[]"
	default:
		return "{}"
	}
}
