package main

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

func TestReportDeadLettersArchivesAndFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.jsonl")
	archive := storage.NewFailedArchive(path)
	defer archive.Close()

	failed := []model.FailedEvent{
		{Event: model.QueuedEvent{ID: "0xaa-1"}, Error: "store unavailable", FailedAt: time.Unix(100, 0)},
		{Event: model.QueuedEvent{ID: "0xbb-2"}, Error: "decode failed", FailedAt: time.Unix(101, 0)},
	}
	err := reportDeadLetters(zap.NewNop(), archive, failed)
	require.ErrorIs(t, err, errDeadLettered)
	assert.Contains(t, err.Error(), "2")

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestReportDeadLettersCleanRun(t *testing.T) {
	archive := storage.NewFailedArchive(filepath.Join(t.TempDir(), "failed.jsonl"))
	defer archive.Close()
	assert.NoError(t, reportDeadLetters(zap.NewNop(), archive, nil))
}
