package notify

import (
	"github.com/earcatch/earcatch/internal/config"
	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/util"
)

// RecognitionNotifier fans a recognized song out to the configured
// channels: webhook, email and the event log. Each channel is skipped
// silently when unconfigured; delivery results are logged, never
// propagated, so a broken webhook cannot fail a recognition.
type RecognitionNotifier struct {
	cfg *config.Config
}

// NewRecognitionNotifier returns a notifier backed by the given config.
func NewRecognitionNotifier(cfg *config.Config) *RecognitionNotifier {
	return &RecognitionNotifier{cfg: cfg}
}

// SongRecognized dispatches notifications for one recognition. Senders
// run in their own goroutines so the recognition path never blocks on
// the network.
func (n *RecognitionNotifier) SongRecognized(s song.Song, isNew bool) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go n.sendWebhook(s, isNew)
	}
	if cfg.HasEmail() && isNew {
		go n.sendEmail(s)
	}
	if cfg.HasLogPath() {
		go n.writeLog(s, isNew)
	}
}

func (n *RecognitionNotifier) sendWebhook(s song.Song, isNew bool) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendRecognitionWebhook(cfg.WebhookURL, s, isNew) },
		"Recognition webhook",
		true,
	)
}

func (n *RecognitionNotifier) sendEmail(s song.Song) {
	cfg := n.cfg.Snapshot()
	emailCfg := &EmailConfig{
		Host:       cfg.EmailSMTPHost,
		Port:       cfg.EmailSMTPPort,
		FromName:   cfg.EmailFromName,
		Username:   cfg.EmailUsername,
		Password:   cfg.EmailPassword,
		Recipients: cfg.EmailRecipients,
	}
	util.LogNotifyResult(
		func() error { return SendRecognitionAlert(emailCfg, s) },
		"Recognition email",
		true,
	)
}

func (n *RecognitionNotifier) writeLog(s song.Song, isNew bool) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return LogRecognition(cfg.LogPath, s, isNew) },
		"Recognition log",
		true,
	)
}
