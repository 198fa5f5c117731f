package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/earcatch/earcatch/internal/config"
	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/types"
	"github.com/earcatch/earcatch/internal/util"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Callbacks connect commands to the recognizer core. The handler never
// touches the session or store directly.
type Callbacks struct {
	Listen      func() error
	Stop        func() error
	Cancel      func()
	Acknowledge func(id string) error
	DeleteSong  func(id string) error
	Search      func(pattern string) []song.Scored
	RetrySaved  func() (matched, noMatch, kept int, err error)
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	cb           Callbacks
	testTriggers map[string]func() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, cb Callbacks, testTriggers map[string]func() error) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		cb:           cb,
		testTriggers: testTriggers,
	}
}

// Handle processes one command. Replies go through send, which routes the
// value to the requesting client; triggerStatusUpdate asks the hub for a
// fresh status frame.
func (h *CommandHandler) Handle(cmd WSCommand, send func(any), triggerStatusUpdate func()) {
	switch cmd.Type {
	case "listen":
		if err := h.cb.Listen(); err != nil {
			slog.Warn("listen: rejected", "error", err)
		}
	case "stop":
		if err := h.cb.Stop(); err != nil {
			slog.Warn("stop: rejected", "error", err)
		}
	case "cancel":
		h.cb.Cancel()
	case "acknowledge":
		if cmd.ID == "" {
			slog.Warn("acknowledge: no song id provided")
			break
		}
		if err := h.cb.Acknowledge(cmd.ID); err != nil {
			slog.Warn("acknowledge: failed", "song_id", cmd.ID, "error", err)
		}
	case "delete_song":
		h.handleDeleteSong(cmd)
	case "search":
		h.handleSearch(cmd, send)
	case "retry_saved":
		h.handleRetrySaved(send)
	case "update_settings":
		h.handleUpdateSettings(cmd)
	case "test_webhook", "test_log", "test_email":
		h.handleTest(send, cmd.Type)
	case "view_event_log":
		h.handleViewEventLog(send)
	default:
		slog.Warn("unknown WebSocket command type", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

func (h *CommandHandler) handleDeleteSong(cmd WSCommand) {
	if cmd.ID == "" {
		slog.Warn("delete_song: no song id provided")
		return
	}
	slog.Info("delete_song: deleting", "song_id", cmd.ID)
	if err := h.cb.DeleteSong(cmd.ID); err != nil {
		slog.Error("delete_song: failed", "song_id", cmd.ID, "error", err)
	}
}

func (h *CommandHandler) handleSearch(cmd WSCommand, send func(any)) {
	var query struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(cmd.Data, &query); err != nil {
		slog.Warn("search: invalid JSON data", "error", err)
		return
	}
	if err := util.ValidateMaxLength("query", query.Query, 256); err != nil {
		slog.Warn("search: validation failed", "error", err.Message)
		return
	}
	results := h.cb.Search(query.Query)
	send(map[string]any{
		"type":    "search_results",
		"query":   query.Query,
		"results": results,
	})
}

func (h *CommandHandler) handleRetrySaved(send func(any)) {
	go func() {
		result := types.WSRetryResult{
			Type:    "retry_result",
			Success: true,
		}
		matched, noMatch, kept, err := h.cb.RetrySaved()
		result.Matched = matched
		result.NoMatch = noMatch
		result.Kept = kept
		if err != nil {
			slog.Error("retry_saved: pass failed", "error", err)
			result.Success = false
			result.Error = err.Error()
		}
		send(result)
	}()
}

// updateIntSetting validates and updates an int setting.
func updateIntSetting(value *int, min, max int, name string, setter func(int) error) {
	if value == nil {
		return
	}
	v := *value
	if err := util.ValidateRange(name, v, min, max); err != nil {
		slog.Warn("update_settings: validation failed", "setting", name, "error", err.Message)
		return
	}
	slog.Info("update_settings: changing setting", "setting", name, "value", v)
	if err := setter(v); err != nil {
		slog.Error("update_settings: failed to save", "error", err)
	}
}

// updateStringSetting updates a string setting.
func updateStringSetting(value *string, name string, setter func(string) error) {
	if value == nil {
		return
	}
	slog.Info("update_settings: changing setting", "setting", name)
	if err := setter(*value); err != nil {
		slog.Error("update_settings: failed to save", "error", err)
	}
}

func (h *CommandHandler) handleUpdateSettings(cmd WSCommand) {
	var settings struct {
		AudioInput      *string `json:"audio_input"`
		APIToken        *string `json:"api_token"`
		ListenSeconds   *int    `json:"listen_seconds"`
		WebhookURL      *string `json:"webhook_url"`
		LogPath         *string `json:"log_path"`
		EmailSMTPHost   *string `json:"email_smtp_host"`
		EmailSMTPPort   *int    `json:"email_smtp_port"`
		EmailFromName   *string `json:"email_from_name"`
		EmailUsername   *string `json:"email_username"`
		EmailPassword   *string `json:"email_password"`
		EmailRecipients *string `json:"email_recipients"`
	}
	if err := json.Unmarshal(cmd.Data, &settings); err != nil {
		slog.Warn("update_settings: invalid JSON data", "error", err)
		return
	}

	updateStringSetting(settings.AudioInput, "audio input", h.cfg.SetAudioInput)
	updateStringSetting(settings.APIToken, "api token", h.cfg.SetAPIToken)
	updateIntSetting(settings.ListenSeconds, 1, 60, "listen seconds", h.cfg.SetListenSeconds)
	updateStringSetting(settings.WebhookURL, "webhook URL", h.cfg.SetWebhookURL)
	updateStringSetting(settings.LogPath, "log path", h.cfg.SetLogPath)

	if settings.EmailSMTPHost != nil || settings.EmailSMTPPort != nil ||
		settings.EmailFromName != nil || settings.EmailUsername != nil ||
		settings.EmailPassword != nil || settings.EmailRecipients != nil {
		// Merge with current values for fields not being updated.
		current := h.cfg.Snapshot()
		host := current.EmailSMTPHost
		port := current.EmailSMTPPort
		fromName := current.EmailFromName
		username := current.EmailUsername
		password := current.EmailPassword
		recipients := current.EmailRecipients
		if settings.EmailSMTPHost != nil {
			host = *settings.EmailSMTPHost
		}
		if settings.EmailSMTPPort != nil {
			port = max(1, min(*settings.EmailSMTPPort, 65535))
		}
		if settings.EmailFromName != nil {
			fromName = *settings.EmailFromName
		}
		if settings.EmailUsername != nil {
			username = *settings.EmailUsername
		}
		if settings.EmailPassword != nil {
			password = *settings.EmailPassword
		}
		if settings.EmailRecipients != nil {
			recipients = *settings.EmailRecipients
		}

		slog.Info("update_settings: updating email configuration")
		if err := h.cfg.SetEmailConfig(host, port, fromName, username, password, recipients); err != nil {
			slog.Error("update_settings: failed to save email config", "error", err)
		}
	}
}

// handleTest executes a notification test and sends the result to the client.
// testCmd is of the form "test_<type>" (e.g. "test_email", "test_webhook").
func (h *CommandHandler) handleTest(send func(any), testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")
	trigger, ok := h.testTriggers[testType]
	if !ok {
		slog.Warn("unknown test type", "command", testCmd)
		return
	}

	go func() {
		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := trigger(); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		send(result)
	}()
}

// handleViewEventLog reads and returns the recognition log file contents.
func (h *CommandHandler) handleViewEventLog(send func(any)) {
	go func() {
		result := types.WSEventLogResult{
			Type:    "event_log_result",
			Success: true,
		}

		logPath := h.cfg.LogPath()
		if logPath == "" {
			result.Success = false
			result.Error = "Log file path not configured"
			send(result)
			return
		}

		entries, err := readEventLog(logPath, 100)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		} else {
			result.Entries = entries
			result.Path = logPath
		}

		send(result)
	}()
}

// readEventLog reads the last N entries from the recognition log file.
func readEventLog(logPath string, maxEntries int) ([]types.RecognitionLogEntry, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return []types.RecognitionLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return []types.RecognitionLogEntry{}, nil
	}

	start := max(0, len(lines)-maxEntries)
	lines = lines[start:]

	entries := make([]types.RecognitionLogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry types.RecognitionLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // Skip malformed entries
		}
		entries = append(entries, entry)
	}

	// Reverse to show newest first
	slices.Reverse(entries)

	return entries, nil
}
