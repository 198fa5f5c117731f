// Package types provides shared type definitions used across the assistant.
package types

import "time"

// SessionState represents the current state of a recognize session.
type SessionState string

const (
	// StateIdle indicates no listen attempt is active.
	StateIdle SessionState = "idle"
	// StateListening indicates audio is being captured.
	StateListening SessionState = "listening"
	// StateRecognizing indicates a clip is being submitted for recognition.
	StateRecognizing SessionState = "recognizing"
	// StateSucceeded indicates the last attempt matched a song.
	StateSucceeded SessionState = "succeeded"
	// StateNoMatch indicates the service found no matching song.
	StateNoMatch SessionState = "no_match"
	// StateFailed indicates the last attempt ended in an error.
	StateFailed SessionState = "failed"
)

// Terminal reports whether the state ends a listen attempt.
func (s SessionState) Terminal() bool {
	return s == StateSucceeded || s == StateNoMatch || s == StateFailed
}

// Capture settings.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// PeakInterval is how often peak levels are reported.
	PeakInterval = 80 * time.Millisecond
	// FinalizeTimeout bounds how long Stop waits for the encoder to flush.
	FinalizeTimeout = 3 * time.Second
)

// ShutdownTimeout bounds graceful HTTP server shutdown.
const ShutdownTimeout = 5 * time.Second

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionStatus summarizes the recognizer for status frames.
type SessionStatus struct {
	State      SessionState `json:"state"`
	LastError  string       `json:"last_error,omitzero"`
	ErrorStage string       `json:"error_stage,omitzero"`
	SongCount  int          `json:"song_count"`
	SavedClips int          `json:"saved_clips,omitzero"`
}

// RecognitionLogEntry is one line in the recognition event log.
type RecognitionLogEntry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	SongID    string `json:"song_id,omitzero"`
	Title     string `json:"title,omitzero"`
	Artist    string `json:"artist,omitzero"`
	Album     string `json:"album,omitzero"`
}

// WSTestResult is the reply to a test_* command.
type WSTestResult struct {
	Type     string `json:"type"`
	TestType string `json:"test_type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitzero"`
}

// WSEventLogResult is the reply to a view_event_log command.
type WSEventLogResult struct {
	Type    string                `json:"type"`
	Success bool                  `json:"success"`
	Error   string                `json:"error,omitzero"`
	Path    string                `json:"path,omitzero"`
	Entries []RecognitionLogEntry `json:"entries,omitempty"`
}

// WSRetryResult is the reply to a retry_saved command.
type WSRetryResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitzero"`
	Matched int    `json:"matched"`
	NoMatch int    `json:"no_match"`
	Kept    int    `json:"kept"`
}

// VersionInfo describes the running and latest released versions.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitzero"`
	Commit      string `json:"commit,omitzero"`
	BuildTime   string `json:"build_time,omitzero"`
	UpdateAvail bool   `json:"update_available,omitzero"`
}
