package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app", "config.json")

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	if c.WebPort() != DefaultWebPort {
		t.Errorf("WebPort() = %d, want %d", c.WebPort(), DefaultWebPort)
	}
	if c.RecognitionEndpoint() != DefaultRecognitionEndpoint {
		t.Errorf("RecognitionEndpoint() = %q", c.RecognitionEndpoint())
	}
	if c.ListenSeconds() != DefaultListenSeconds {
		t.Errorf("ListenSeconds() = %d, want %d", c.ListenSeconds(), DefaultListenSeconds)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	partial := `{"web": {"port": 9000}, "recognition": {"api_token": "tok"}}`
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.WebPort() != 9000 {
		t.Errorf("WebPort() = %d, want 9000", c.WebPort())
	}
	if c.APIToken() != "tok" {
		t.Errorf("APIToken() = %q, want tok", c.APIToken())
	}
	if c.ListenSeconds() != DefaultListenSeconds {
		t.Errorf("ListenSeconds() = %d, want default %d", c.ListenSeconds(), DefaultListenSeconds)
	}
}

func TestSettersPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := c.SetAudioInput("alsa_input.usb-mic"); err != nil {
		t.Fatalf("SetAudioInput() error = %v", err)
	}
	if err := c.SetListenSeconds(15); err != nil {
		t.Fatalf("SetListenSeconds() error = %v", err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if reloaded.AudioInput() != "alsa_input.usb-mic" {
		t.Errorf("AudioInput() = %q after reload", reloaded.AudioInput())
	}
	if reloaded.ListenSeconds() != 15 {
		t.Errorf("ListenSeconds() = %d after reload, want 15", reloaded.ListenSeconds())
	}
}

func TestSetListenSecondsValidates(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "config.json"))
	if err := c.SetListenSeconds(0); err == nil {
		t.Error("SetListenSeconds(0) succeeded, want validation error")
	}
	if err := c.SetListenSeconds(61); err == nil {
		t.Error("SetListenSeconds(61) succeeded, want validation error")
	}
}

func TestStoragePathsResolveRelativeToConfig(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "config.json"))

	if got, want := c.DatabasePath(), filepath.Join(dir, "songs.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
	if got, want := c.ClipsDir(), filepath.Join(dir, "clips"); got != want {
		t.Errorf("ClipsDir() = %q, want %q", got, want)
	}

	c.Storage.DatabasePath = "/var/lib/earcatch/songs.db"
	if got := c.DatabasePath(); got != "/var/lib/earcatch/songs.db" {
		t.Errorf("absolute DatabasePath() = %q", got)
	}
}

func TestSnapshot(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "config.json"))
	c.Notifications.WebhookURL = "https://example.com/hook"
	c.Notifications.Email.Host = "smtp.example.com"
	c.Notifications.Email.Recipients = "a@example.com"

	s := c.Snapshot()
	if !s.HasWebhook() || !s.HasEmail() || s.HasLogPath() {
		t.Errorf("snapshot predicates wrong: %+v", s)
	}
	if s.EmailSMTPPort != DefaultEmailSMTPPort {
		t.Errorf("EmailSMTPPort = %d, want default", s.EmailSMTPPort)
	}
	if s.EmailFromName != DefaultEmailFromName {
		t.Errorf("EmailFromName = %q, want default", s.EmailFromName)
	}
}
