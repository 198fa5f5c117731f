// Package recognizer drives one recognition attempt at a time through a
// small state machine: capture audio, submit the clip, publish the verdict.
package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/earcatch/earcatch/internal/fingerprint"
	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/types"
	"github.com/earcatch/earcatch/internal/util"
)

var (
	// ErrAlreadyInProgress is returned by Listen while a session is active.
	ErrAlreadyInProgress = errors.New("recognition already in progress")
	// ErrNotListening is returned by Stop outside the Listening state.
	ErrNotListening = errors.New("session is not listening")
)

// Capturer records audio from an input device. *audio.Capture implements it.
type Capturer interface {
	Start(deviceID string, onPeak func(float64)) error
	Stop() ([]byte, error)
	Close()
}

// Matcher resolves a recorded clip into a verdict. *fingerprint.Client
// implements it.
type Matcher interface {
	Recognize(ctx context.Context, clip []byte) (fingerprint.Verdict, error)
}

// ClipSink stores clips whose recognition failed retryably.
type ClipSink interface {
	Save(clip []byte) (string, error)
}

// EventKind discriminates session events.
type EventKind int

const (
	// EventState announces a state transition.
	EventState EventKind = iota
	// EventPeak carries a normalized peak level while listening.
	EventPeak
)

// Event is one session notification. Events arrive in transition order.
type Event struct {
	Kind  EventKind
	State types.SessionState
	Peak  float64

	// Result is set when State is Succeeded.
	Result *song.Metadata
	// Err is set when State is Failed; its stage identifies the failing step.
	Err error
	// ClipSaved reports that the failed attempt's clip was kept for retry.
	ClipSaved bool
}

// internalKind discriminates messages posted back to the loop by helper
// goroutines.
type internalKind int

const (
	msgPeak internalKind = iota
	msgCaptureError
	msgRecognized
)

type internalMsg struct {
	kind       internalKind
	peak       float64
	err        error
	generation uint64
	verdict    fingerprint.Verdict
	clip       []byte
}

type commandKind int

const (
	cmdListen commandKind = iota
	cmdStop
	cmdCancel
)

type command struct {
	kind     commandKind
	deviceID string
	reply    chan error
}

// Session is the recognition state machine. A single goroutine owns all
// state; commands and asynchronous completions are messages to that
// goroutine, so transitions apply one at a time.
type Session struct {
	capture   Capturer
	matcher   Matcher
	clips     ClipSink
	listenFor func() time.Duration

	cmds     chan command
	internal chan internalMsg
	events   chan Event
	done     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	// loop-owned state, never touched outside run()
	state           types.SessionState
	generation      uint64
	listenTimer     *time.Timer
	cancelRecognize context.CancelFunc
}

// Option tweaks a Session.
type Option func(*Session)

// WithListenDuration overrides how long Listening runs before recognition
// starts on its own.
func WithListenDuration(d time.Duration) Option {
	return func(s *Session) { s.listenFor = func() time.Duration { return d } }
}

// WithListenDurationFunc reads the listen duration per attempt, so a
// settings change applies to the next Listen.
func WithListenDurationFunc(fn func() time.Duration) Option {
	return func(s *Session) { s.listenFor = fn }
}

// WithClipSink keeps clips of retryably failed attempts.
func WithClipSink(sink ClipSink) Option {
	return func(s *Session) { s.clips = sink }
}

// DefaultListenDuration is how long a session listens before submitting.
const DefaultListenDuration = 10 * time.Second

// New creates an idle session and starts its event loop.
func New(capture Capturer, matcher Matcher, opts ...Option) *Session {
	s := &Session{
		capture:   capture,
		matcher:   matcher,
		listenFor: func() time.Duration { return DefaultListenDuration },
		cmds:      make(chan command),
		internal:  make(chan internalMsg, 64),
		events:    make(chan Event, 128),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
		state:     types.StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Events returns the session's notification stream. The consumer must keep
// draining it.
func (s *Session) Events() <-chan Event { return s.events }

// Listen starts a new attempt. Terminal states reset to Idle first; an
// active session fails with ErrAlreadyInProgress and is left untouched.
func (s *Session) Listen(deviceID string) error {
	return s.send(command{kind: cmdListen, deviceID: deviceID})
}

// Stop ends Listening early and submits whatever was captured.
func (s *Session) Stop() error {
	return s.send(command{kind: cmdStop})
}

// Cancel aborts the attempt from any state and returns to Idle. Canceling
// an idle session is a no-op.
func (s *Session) Cancel() {
	_ = s.send(command{kind: cmdCancel})
}

// Close cancels any active attempt and stops the event loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.closed
	return nil
}

func (s *Session) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.cmds <- cmd:
		return <-cmd.reply
	case <-s.done:
		return errors.New("session closed")
	}
}

func (s *Session) run() {
	defer close(s.closed)
	for {
		var timeout <-chan time.Time
		if s.listenTimer != nil {
			timeout = s.listenTimer.C
		}
		select {
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case msg := <-s.internal:
			s.handleInternal(msg)
		case <-timeout:
			s.listenTimer = nil
			slog.Debug("listen window elapsed")
			s.finishListening()
		case <-s.done:
			s.teardown()
			return
		}
	}
}

func (s *Session) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdListen:
		cmd.reply <- s.listen(cmd.deviceID)
	case cmdStop:
		if s.state != types.StateListening {
			cmd.reply <- ErrNotListening
			return
		}
		s.finishListening()
		cmd.reply <- nil
	case cmdCancel:
		s.cancel()
		cmd.reply <- nil
	}
}

func (s *Session) handleInternal(msg internalMsg) {
	switch msg.kind {
	case msgPeak:
		if s.state == types.StateListening {
			s.events <- Event{Kind: EventPeak, State: s.state, Peak: msg.peak}
		}
	case msgCaptureError:
		if s.state != types.StateListening {
			return
		}
		s.stopTimer()
		s.fail(msg.err, false)
	case msgRecognized:
		if msg.generation != s.generation || s.state != types.StateRecognizing {
			slog.Debug("discarding stale recognition result", "generation", msg.generation)
			return
		}
		s.cancelRecognize = nil
		s.settle(msg)
	}
}

func (s *Session) listen(deviceID string) error {
	if s.state != types.StateIdle {
		if !s.state.Terminal() {
			return ErrAlreadyInProgress
		}
		s.setState(types.StateIdle, Event{})
	}

	err := s.capture.Start(deviceID, func(peak float64) {
		// Meter goroutine; never block it.
		select {
		case s.internal <- internalMsg{kind: msgPeak, peak: peak}:
		default:
		}
	})
	if err != nil {
		stageErr := util.NewStageError(util.StageCapture, err)
		s.fail(stageErr, false)
		return stageErr
	}

	s.listenTimer = time.NewTimer(s.listenFor())
	s.setState(types.StateListening, Event{})
	return nil
}

// finishListening drives Listening into Recognizing: stop the capture,
// take the clip, submit it in a helper goroutine tagged with the current
// generation.
func (s *Session) finishListening() {
	s.stopTimer()

	clip, err := s.capture.Stop()
	if err != nil {
		s.fail(util.NewStageError(util.StageCapture, err), false)
		return
	}

	s.setState(types.StateRecognizing, Event{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRecognize = cancel
	generation := s.generation
	go func() {
		defer cancel()
		verdict, err := s.matcher.Recognize(ctx, clip)
		select {
		case s.internal <- internalMsg{
			kind:       msgRecognized,
			generation: generation,
			verdict:    verdict,
			err:        err,
			clip:       clip,
		}:
		case <-s.done:
		}
	}()
}

// settle applies a recognition completion for the live generation.
func (s *Session) settle(msg internalMsg) {
	if msg.err != nil {
		var reqErr *fingerprint.RequestError
		if errors.As(msg.err, &reqErr) {
			saved := false
			if reqErr.Kind.Retryable() && s.clips != nil {
				path, saveErr := s.clips.Save(msg.clip)
				if saveErr != nil {
					slog.Error("failed to save clip for retry", "error", saveErr)
				} else {
					slog.Info("saved clip for later retry", "path", path)
					saved = true
				}
			}
			s.fail(util.NewStageError(reqErr.Kind.Stage(), msg.err), saved)
			return
		}
		s.fail(util.NewStageError(util.StageUpload, msg.err), false)
		return
	}

	if !msg.verdict.Match {
		s.setState(types.StateNoMatch, Event{})
		return
	}
	meta := msg.verdict.Song
	s.setState(types.StateSucceeded, Event{Result: &meta})
}

func (s *Session) cancel() {
	switch s.state {
	case types.StateIdle:
		return
	case types.StateListening:
		s.stopTimer()
		// The buffer is discarded without a network call.
		if _, err := s.capture.Stop(); err != nil {
			slog.Warn("stopping capture on cancel", "error", err)
		}
	case types.StateRecognizing:
		if s.cancelRecognize != nil {
			s.cancelRecognize()
			s.cancelRecognize = nil
		}
	}
	// Terminal states carry nothing to tear down but still return to Idle.
	s.setState(types.StateIdle, Event{})
}

func (s *Session) fail(err error, clipSaved bool) {
	slog.Error("recognition attempt failed", "stage", util.StageOf(err), "error", err)
	s.setState(types.StateFailed, Event{Err: err, ClipSaved: clipSaved})
}

// setState applies the transition and emits its notification. Every entry
// into Idle bumps the generation so in-flight results become stale.
func (s *Session) setState(state types.SessionState, ev Event) {
	s.state = state
	if state == types.StateIdle {
		s.generation++
	}
	ev.Kind = EventState
	ev.State = state
	s.events <- ev
}

func (s *Session) stopTimer() {
	if s.listenTimer != nil {
		s.listenTimer.Stop()
		s.listenTimer = nil
	}
}

func (s *Session) teardown() {
	s.stopTimer()
	if s.cancelRecognize != nil {
		s.cancelRecognize()
	}
	s.capture.Close()
}

// OnCaptureError is the capture pipeline's error callback. It posts the
// failure into the event loop.
func (s *Session) OnCaptureError(err error) {
	select {
	case s.internal <- internalMsg{kind: msgCaptureError, err: err}:
	case <-s.done:
	}
}
