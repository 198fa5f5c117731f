package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/earcatch/earcatch/internal/song"
)

func TestSendRecognitionWebhook(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("payload not JSON: %v", err)
		}
	}))
	defer srv.Close()

	s := song.Song{ID: "id-1", Title: "Roundabout", Artist: "Yes", Album: "Fragile"}
	if err := SendRecognitionWebhook(srv.URL, s, true); err != nil {
		t.Fatalf("SendRecognitionWebhook() error = %v", err)
	}

	if payload["event"] != "song_recognized" {
		t.Errorf("event = %v", payload["event"])
	}
	if payload["title"] != "Roundabout" || payload["artist"] != "Yes" {
		t.Errorf("payload = %v", payload)
	}
	if payload["new_song"] != true {
		t.Errorf("new_song = %v", payload["new_song"])
	}
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	if err := SendRecognitionWebhook("", song.Song{}, false); err != nil {
		t.Errorf("unconfigured webhook returned error %v", err)
	}
}

func TestSendWebhookReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := SendTestWebhook(srv.URL); err == nil {
		t.Error("SendTestWebhook() succeeded against a 500 endpoint")
	}
}

func TestLogRecognition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	s := song.Song{ID: "id-1", Title: "Roundabout", Artist: "Yes", LastHeard: time.Now()}
	if err := LogRecognition(path, s, true); err != nil {
		t.Fatalf("LogRecognition() error = %v", err)
	}
	if err := LogRecognition(path, s, false); err != nil {
		t.Fatalf("second LogRecognition() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want 2", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 not JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line 2 not JSON: %v", err)
	}
	if first["event"] != "song_recognized" || second["event"] != "song_reheard" {
		t.Errorf("events = %v, %v", first["event"], second["event"])
	}
}

func TestWriteTestLogRequiresPath(t *testing.T) {
	if err := WriteTestLog(""); err == nil {
		t.Error("WriteTestLog(\"\") succeeded, want error")
	}
}
