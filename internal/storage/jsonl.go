package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"marketIndexer/internal/model"
)

// FailedArchive is an append-only JSONL file of dead letters removed from
// memory. The file is opened on first use and kept open until Close.
type FailedArchive struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFailedArchive(path string) *FailedArchive {
	return &FailedArchive{path: path}
}

// Append writes one line per event. With no path configured events are
// discarded.
func (a *FailedArchive) Append(events []model.FailedEvent) error {
	if a.path == "" || len(events) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.openLocked(); err != nil {
		return err
	}
	for _, ev := range events {
		if err := a.enc.Encode(ev); err != nil {
			return fmt.Errorf("archive %s: %w", ev.Event.ID, err)
		}
	}
	return a.file.Sync()
}

func (a *FailedArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file, a.enc = nil, nil
	return err
}

func (a *FailedArchive) openLocked() error {
	if a.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	a.file, a.enc = file, json.NewEncoder(file)
	return nil
}
