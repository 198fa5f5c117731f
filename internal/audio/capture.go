package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/earcatch/earcatch/internal/ffmpeg"
	"github.com/earcatch/earcatch/internal/types"
	"github.com/earcatch/earcatch/internal/util"
)

var (
	// ErrAlreadyRecording is returned when Start is called on an active capture.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned when Stop is called on an inactive capture.
	ErrNotRecording = errors.New("recording has not been started")
	// ErrNoAudioDevice is returned when no audio input device is available.
	ErrNoAudioDevice = errors.New("no audio input device found")
)

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "parec", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// BuildArgs returns the command arguments for audio capture.
	// The device parameter is the audio input device identifier.
	BuildArgs func(device string) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it attempts to use the default or auto-detect.
func BuildCaptureCommand(device string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	return cfg.Command, cfg.BuildArgs(device), nil
}

// Capture runs one microphone recording pipeline:
// source process (device, mono 16kHz PCM) -> level meter -> FFmpeg Opus
// encoder -> Ogg container -> in-memory sink.
//
// At most one recording is active per Capture. The peak callback fires
// roughly every 80ms on the pipeline goroutine and must not block.
type Capture struct {
	mu      sync.Mutex
	p       *pipeline
	onError func(error)
}

// New creates a Capture. onError is invoked (from a pipeline goroutine,
// at most once per recording) when a source or encoder process fails
// while the capture is active; it may be nil.
func New(onError func(error)) *Capture {
	return &Capture{onError: onError}
}

// pipeline holds the child processes and goroutines of one recording.
type pipeline struct {
	sourceCmd    *exec.Cmd
	sourceCancel context.CancelFunc
	sourceOut    io.ReadCloser
	sourceStderr *util.BoundedBuffer

	encCmd       *exec.Cmd
	encCancel    context.CancelFunc
	encStdin     io.WriteCloser
	encStderr    *util.BoundedBuffer
	closeStdin   sync.Once

	sink bytes.Buffer // written only by the collector goroutine

	pumpDone      chan struct{}
	collectorDone chan struct{}
	stopping      chan struct{}
	stopOnce      sync.Once
	reportOnce    sync.Once
}

// Start begins capturing from the given device. An empty deviceID selects
// the platform default. Fails with ErrAlreadyRecording while active.
func (c *Capture) Start(deviceID string, onPeak func(level float64)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.p != nil {
		return ErrAlreadyRecording
	}

	cmdName, args, err := BuildCaptureCommand(deviceID)
	if err != nil {
		return util.NewStageError(util.StageCapture, err)
	}

	p := &pipeline{
		sourceStderr:  util.NewStderrBuffer(),
		encStderr:     util.NewStderrBuffer(),
		pumpDone:      make(chan struct{}),
		collectorDone: make(chan struct{}),
		stopping:      make(chan struct{}),
	}

	srcCtx, srcCancel := context.WithCancel(context.Background())
	p.sourceCmd = exec.CommandContext(srcCtx, cmdName, args...)
	p.sourceCancel = srcCancel
	p.sourceCmd.Stderr = p.sourceStderr

	p.sourceOut, err = p.sourceCmd.StdoutPipe()
	if err != nil {
		srcCancel()
		return util.NewStageError(util.StageCapture, err)
	}

	encCtx, encCancel := context.WithCancel(context.Background())
	p.encCmd = exec.CommandContext(encCtx, "ffmpeg", ffmpeg.OpusEncodeArgs()...)
	p.encCancel = encCancel
	p.encCmd.Stderr = p.encStderr

	p.encStdin, err = p.encCmd.StdinPipe()
	if err != nil {
		srcCancel()
		encCancel()
		return util.NewStageError(util.StageEncode, err)
	}
	encOut, err := p.encCmd.StdoutPipe()
	if err != nil {
		srcCancel()
		encCancel()
		return util.NewStageError(util.StageEncode, err)
	}

	if err := p.sourceCmd.Start(); err != nil {
		srcCancel()
		encCancel()
		return util.NewStageError(util.StageCapture, util.WrapError("start capture source", err))
	}
	if err := p.encCmd.Start(); err != nil {
		srcCancel()
		encCancel()
		go func() { _ = p.sourceCmd.Wait() }()
		return util.NewStageError(util.StageEncode, util.WrapError("start encoder", err))
	}

	slog.Info("capture started", "command", cmdName, "device", deviceID)

	go c.runPump(p, onPeak)
	go runCollector(p, encOut)

	c.p = p
	return nil
}

// runPump moves PCM from the source to the encoder and meters peak levels.
func (c *Capture) runPump(p *pipeline, onPeak func(float64)) {
	defer close(p.pumpDone)
	// Closing the encoder stdin signals end-of-stream so the muxer
	// finalizes a well-formed container, even when no data was produced.
	defer p.closeEncStdin()

	buf := make([]byte, 2*PeakIntervalSamples) // one peak interval of S16LE mono
	levelData := &LevelData{}

	for {
		n, err := p.sourceOut.Read(buf)
		if n > 0 {
			ProcessSamples(buf, n, levelData)
			if levelData.SampleCount >= PeakIntervalSamples {
				levels := CalculateLevels(levelData)
				if onPeak != nil {
					onPeak(levels.PeakNorm)
				}
				ResetLevelData(levelData)
			}
			if _, werr := p.encStdin.Write(buf[:n]); werr != nil {
				c.report(p, util.StageEncode, p.encStderr, werr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.report(p, util.StageCapture, p.sourceStderr, err)
			} else {
				// EOF without a stop is an unexpected end-of-stream.
				select {
				case <-p.stopping:
				default:
					c.report(p, util.StageCapture, p.sourceStderr, errors.New("capture source ended unexpectedly"))
				}
			}
			return
		}
	}
}

// runCollector drains the encoder output into the in-memory sink.
func runCollector(p *pipeline, encOut io.ReadCloser) {
	defer close(p.collectorDone)
	if _, err := io.Copy(&p.sink, encOut); err != nil {
		slog.Debug("encoder output read ended", "error", err)
	}
}

// report surfaces an asynchronous pipeline failure, at most once, and only
// while the capture has not been asked to stop.
func (c *Capture) report(p *pipeline, stage util.Stage, stderr *util.BoundedBuffer, err error) {
	select {
	case <-p.stopping:
		return
	default:
	}
	p.reportOnce.Do(func() {
		if detail := ffmpeg.ExtractLastError(stderr.String()); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		slog.Error("capture pipeline failure", "stage", string(stage), "error", err)
		if c.onError != nil {
			c.onError(util.NewStageError(stage, err))
		}
	})
}

// Stop finalizes the pipeline and returns the encoded Ogg buffer.
// Fails with ErrNotRecording when no recording is active.
func (c *Capture) Stop() ([]byte, error) {
	c.mu.Lock()
	p := c.p
	c.p = nil
	c.mu.Unlock()

	if p == nil {
		return nil, ErrNotRecording
	}

	return p.finalize()
}

// finalize tears the pipeline down in order: source first, then the
// encoder once the PCM pump has drained, bounded by FinalizeTimeout.
func (p *pipeline) finalize() ([]byte, error) {
	p.stopOnce.Do(func() { close(p.stopping) })
	p.sourceCancel()

	select {
	case <-p.pumpDone:
	case <-time.After(types.FinalizeTimeout):
		slog.Warn("capture pump did not drain in time")
		p.closeEncStdin()
	}

	// Expected to fail when the source was killed; the exit status is
	// irrelevant once the pump has drained.
	if err := p.sourceCmd.Wait(); err != nil {
		slog.Debug("capture source exited", "error", err)
	}

	encDone := make(chan error, 1)
	go func() { encDone <- p.encCmd.Wait() }()

	var encErr error
	select {
	case encErr = <-encDone:
	case <-time.After(types.FinalizeTimeout):
		slog.Warn("encoder did not finalize in time, forcing kill")
		p.encCancel()
		encErr = <-encDone
	}

	<-p.collectorDone

	if encErr != nil {
		detail := ffmpeg.ExtractLastError(p.encStderr.String())
		if detail != "" {
			return nil, util.NewStageError(util.StageEncode, fmt.Errorf("%w: %s", encErr, detail))
		}
		return nil, util.NewStageError(util.StageEncode, encErr)
	}

	return bytes.Clone(p.sink.Bytes()), nil
}

// closeEncStdin closes the encoder input exactly once.
func (p *pipeline) closeEncStdin() {
	p.closeStdin.Do(func() {
		util.SafeClose(p.encStdin, "encoder stdin")
	})
}

// Close stops any active recording best-effort. Errors are logged, not
// returned, since no caller remains to handle them.
func (c *Capture) Close() {
	if _, err := c.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		slog.Debug("failed to stop capture on close", "error", err)
	}
}
