package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/earcatch/earcatch/internal/audio"
	"github.com/earcatch/earcatch/internal/clips"
	"github.com/earcatch/earcatch/internal/config"
	"github.com/earcatch/earcatch/internal/fingerprint"
	"github.com/earcatch/earcatch/internal/history"
	"github.com/earcatch/earcatch/internal/notify"
	"github.com/earcatch/earcatch/internal/recognizer"
	"github.com/earcatch/earcatch/internal/server"
	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/types"
	"github.com/earcatch/earcatch/internal/util"
)

const retryPassTimeout = 5 * time.Minute

// client is one connected presentation client. A dedicated writer
// goroutine drains send, keeping all writes on a single goroutine as the
// WebSocket library requires.
type client struct {
	send chan any
}

// Server bridges the recognizer core and the WebSocket presentation
// boundary: session events become pushed frames, client commands become
// session and store calls.
type Server struct {
	config      *config.Config
	session     *recognizer.Session
	store       *song.Store
	coordinator *history.Coordinator
	clipSaver   *clips.Saver
	matcher     *fingerprint.Client
	commands    *server.CommandHandler
	version     *VersionChecker
	peaks       *audio.PeakHolder // pump goroutine only

	mu      sync.Mutex
	clients map[*client]struct{}
	status  types.SessionStatus
}

// NewServer wires the presentation boundary over the core components.
func NewServer(
	cfg *config.Config,
	sess *recognizer.Session,
	store *song.Store,
	coordinator *history.Coordinator,
	clipSaver *clips.Saver,
	matcher *fingerprint.Client,
) *Server {
	s := &Server{
		config:      cfg,
		session:     sess,
		store:       store,
		coordinator: coordinator,
		clipSaver:   clipSaver,
		matcher:     matcher,
		version:     NewVersionChecker(),
		peaks:       audio.NewPeakHolder(),
		clients:     make(map[*client]struct{}),
		status:      types.SessionStatus{State: types.StateIdle},
	}

	s.commands = server.NewCommandHandler(cfg, server.Callbacks{
		Listen:      s.startListening,
		Stop:        sess.Stop,
		Cancel:      sess.Cancel,
		Acknowledge: coordinator.Acknowledge,
		DeleteSong:  coordinator.Remove,
		Search:      store.Search,
		RetrySaved:  s.retrySaved,
	}, map[string]func() error{
		"webhook": s.testWebhook,
		"log":     s.testLog,
		"email":   s.testEmail,
	})

	go s.pumpSessionEvents()
	go s.statusLoop()
	return s
}

// startListening resolves the capture device from settings, falling back
// to the platform default.
func (s *Server) startListening() error {
	device := s.config.AudioInput()
	if device == "" {
		device = audio.DefaultDeviceID()
	}
	return s.session.Listen(device)
}

func (s *Server) retrySaved() (matched, noMatch, kept int, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), retryPassTimeout)
	defer cancel()

	report, err := s.clipSaver.RetryAll(ctx, s.matcher, s.coordinator)
	return report.Matched, report.NoMatch, report.Kept, err
}

func (s *Server) testWebhook() error {
	return notify.SendTestWebhook(s.config.WebhookURL())
}

func (s *Server) testLog() error {
	return notify.WriteTestLog(s.config.LogPath())
}

func (s *Server) testEmail() error {
	cfg := s.config.Snapshot()
	return notify.SendTestEmail(notify.EmailConfigFromValues(
		cfg.EmailSMTPHost, cfg.EmailSMTPPort, cfg.EmailFromName,
		cfg.EmailUsername, cfg.EmailPassword, cfg.EmailRecipients,
	))
}

// pumpSessionEvents is the sole consumer of the session's event stream.
func (s *Server) pumpSessionEvents() {
	for ev := range s.session.Events() {
		switch ev.Kind {
		case recognizer.EventPeak:
			s.broadcast(s.levelsFrame(ev.Peak))
		case recognizer.EventState:
			if ev.State != types.StateListening {
				s.peaks.Reset()
			}
			s.applyStateEvent(ev)
		}
	}
}

// levelsFrame builds one meter frame. The held peak decays on its own
// schedule so the meter's hold marker survives between samples.
func (s *Server) levelsFrame(peak float64) map[string]any {
	return map[string]any{
		"type": "levels",
		"peak": peak,
		"held": s.peaks.Update(peak, time.Now()),
	}
}

func (s *Server) applyStateEvent(ev recognizer.Event) {
	s.mu.Lock()
	s.status.State = ev.State
	if ev.State == types.StateFailed && ev.Err != nil {
		s.status.LastError = ev.Err.Error()
		s.status.ErrorStage = string(util.StageOf(ev.Err))
	} else if ev.State == types.StateListening {
		s.status.LastError = ""
		s.status.ErrorStage = ""
	}
	s.mu.Unlock()

	if ev.State == types.StateSucceeded && ev.Result != nil {
		sg, isNew, err := s.coordinator.Record(*ev.Result)
		if err != nil {
			slog.Error("failed to record recognition", "error", err)
		} else {
			s.broadcast(recognizedFrame(sg, isNew))
		}
	}

	s.broadcastStatus()
}

// recognizedFrame announces a recorded match. The copy term is the
// ready-made "{artist} - {title}" string the client puts on the clipboard.
func recognizedFrame(sg song.Song, isNew bool) map[string]any {
	return map[string]any{
		"type":      "recognized",
		"song":      sg,
		"new_song":  isNew,
		"copy_term": sg.CopyTerm(),
	}
}

// BroadcastHistory pushes the full store contents to every client. The
// coordinator's change hook calls it after each mutation.
func (s *Server) BroadcastHistory() {
	s.broadcast(map[string]any{
		"type":  "history",
		"songs": s.store.All(),
	})
}

func (s *Server) broadcastStatus() {
	s.broadcast(s.statusFrame())
}

func (s *Server) statusFrame() map[string]any {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	status.SongCount = s.store.Len()
	status.SavedClips = s.clipSaver.Len()

	cfg := s.config.Snapshot()
	return map[string]any{
		"type":    "status",
		"session": status,
		"devices": audio.ListDevices(),
		"settings": map[string]any{
			"audio_input":      cfg.AudioInput,
			"listen_seconds":   cfg.ListenSeconds,
			"api_token_set":    cfg.APIToken != "",
			"webhook_url":      cfg.WebhookURL,
			"log_path":         cfg.LogPath,
			"email_smtp_host":  cfg.EmailSMTPHost,
			"email_smtp_port":  cfg.EmailSMTPPort,
			"email_username":   cfg.EmailUsername,
			"email_recipients": cfg.EmailRecipients,
			"platform":         runtime.GOOS,
		},
		"version": s.version.GetInfo(),
	}
}

// statusLoop refreshes clients periodically so derived counts stay fresh
// even without session activity.
func (s *Server) statusLoop() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if s.clientCount() > 0 {
			s.broadcastStatus()
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// broadcast queues a frame for every client. Slow clients drop frames
// rather than stall the core.
func (s *Server) broadcast(frame any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// handleWebSocket serves one presentation client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer util.SafeCloseFunc(conn, "WebSocket connection")()

	c := &client{send: make(chan any, 64)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	writerDone := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-c.send:
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}()

	// Fresh clients get the full picture immediately.
	c.send <- s.statusFrame()
	c.send <- map[string]any{"type": "history", "songs": s.store.All()}

	sendToClient := func(v any) {
		select {
		case c.send <- v:
		default:
		}
	}

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}
		s.commands.Handle(cmd, sendToClient, s.broadcastStatus)
	}
	close(readerDone)
	<-writerDone
}

// SetupRoutes returns an [http.Handler] with the boundary's routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start begins serving the presentation boundary on loopback only.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WebPort())
	slog.Info("starting presentation boundary", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
