package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/types"
	"github.com/earcatch/earcatch/internal/util"
)

// LogRecognition appends a recognition event to the JSONL log.
func LogRecognition(logPath string, s song.Song, isNew bool) error {
	event := "song_reheard"
	if isNew {
		event = "song_recognized"
	}
	return appendLogEntry(logPath, types.RecognitionLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     event,
		SongID:    s.ID,
		Title:     s.Title,
		Artist:    s.Artist,
		Album:     s.Album,
	})
}

// WriteTestLog writes a test entry to verify log file configuration.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, types.RecognitionLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     "test",
	})
}

// appendLogEntry appends a JSON log entry to the file.
func appendLogEntry(logPath string, entry types.RecognitionLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
