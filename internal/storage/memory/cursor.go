package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type cursorFileContent struct {
	Cursors   map[string]uint64 `json:"cursors"`
	UpdatedAt string            `json:"updated_at"`
}

// cursorFile persists sync cursors by chain id to disk.
type cursorFile struct {
	path string
}

func newCursorFile(path string) *cursorFile {
	return &cursorFile{path: path}
}

func (c *cursorFile) Load() (map[uint64]uint64, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat cursor file: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("cursor path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read cursor file: %w", err)
	}

	var content cursorFileContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse cursor file: %w", err)
	}

	cursors := make(map[uint64]uint64, len(content.Cursors))
	for key, block := range content.Cursors {
		chainID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cursor chain id %q: %w", key, err)
		}
		cursors[chainID] = block
	}
	return cursors, nil
}

// Save writes all cursors atomically via a temp file and rename.
func (c *cursorFile) Save(cursors map[uint64]uint64) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	content := cursorFileContent{
		Cursors:   make(map[string]uint64, len(cursors)),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for chainID, block := range cursors {
		content.Cursors[strconv.FormatUint(chainID, 10)] = block
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal cursor file: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename cursor file: %w", err)
	}
	return nil
}
