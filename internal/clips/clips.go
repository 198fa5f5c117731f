// Package clips keeps recorded clips whose recognition failed for a
// transient reason, so the attempt can be replayed once the service is
// reachable again.
package clips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earcatch/earcatch/internal/fingerprint"
	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/util"
)

const (
	clipPrefix = "clip-"
	clipSuffix = ".ogg"

	// DefaultMaxClips caps the directory; the oldest clip is evicted first.
	DefaultMaxClips = 32
)

// Matcher resolves a clip into a verdict. *fingerprint.Client implements it.
type Matcher interface {
	Recognize(ctx context.Context, clip []byte) (fingerprint.Verdict, error)
}

// Recorder applies a successful recognition to the history.
// *history.Coordinator implements it.
type Recorder interface {
	Record(meta song.Metadata) (song.Song, bool, error)
}

// Saver stores failed-attempt clips in a capped directory.
type Saver struct {
	dir      string
	maxClips int

	mu  sync.Mutex
	now func() time.Time
}

// Option tweaks a Saver.
type Option func(*Saver)

// WithMaxClips overrides the clip cap.
func WithMaxClips(n int) Option {
	return func(s *Saver) { s.maxClips = n }
}

func withClock(now func() time.Time) Option {
	return func(s *Saver) { s.now = now }
}

// New creates the clip directory if needed.
func New(dir string, opts ...Option) (*Saver, error) {
	s := &Saver{
		dir:      dir,
		maxClips: DefaultMaxClips,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError("create clips directory", err)
	}
	return s, nil
}

// Save writes the clip under a timestamped name and evicts the oldest
// clips over the cap. It returns the stored path.
func (s *Saver) Save(clip []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s%d%s", clipPrefix, s.now().UnixNano(), clipSuffix)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		return "", util.WrapError("write clip", err)
	}
	s.prune()
	return path, nil
}

// List returns the stored clip paths, oldest first.
func (s *Saver) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Len returns how many clips are stored.
func (s *Saver) Len() int {
	paths, err := s.List()
	if err != nil {
		return 0
	}
	return len(paths)
}

// list assumes the lock is held. Names embed nanosecond timestamps of
// equal width, so lexical order is age order.
func (s *Saver) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, util.WrapError("read clips directory", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, clipPrefix) && strings.HasSuffix(name, clipSuffix) {
			paths = append(paths, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Saver) prune() {
	paths, err := s.list()
	if err != nil {
		slog.Error("failed to scan clips for pruning", "error", err)
		return
	}
	for len(paths) > s.maxClips {
		oldest := paths[0]
		paths = paths[1:]
		if err := os.Remove(oldest); err != nil {
			slog.Error("failed to evict old clip", "path", oldest, "error", err)
			continue
		}
		slog.Debug("evicted old clip", "path", oldest)
	}
}

// Report summarizes one RetryAll pass.
type Report struct {
	Matched int
	NoMatch int
	Kept    int
}

// RetryAll replays every saved clip through the matcher, oldest first.
// Clips that resolve, by match or by definitive no-match, are deleted;
// clips that fail retryably are kept for a later pass. A non-retryable
// failure aborts the pass with its error, keeping the remaining clips.
func (s *Saver) RetryAll(ctx context.Context, matcher Matcher, recorder Recorder) (Report, error) {
	paths, err := s.List()
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		clip, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read saved clip", "path", path, "error", err)
			report.Kept++
			continue
		}

		verdict, err := matcher.Recognize(ctx, clip)
		if err != nil {
			var reqErr *fingerprint.RequestError
			if errors.As(err, &reqErr) && reqErr.Kind.Retryable() {
				slog.Info("clip still not recognizable, keeping it", "path", path, "kind", reqErr.Kind)
				report.Kept++
				continue
			}
			return report, err
		}

		if verdict.Match {
			if _, _, err := recorder.Record(verdict.Song); err != nil {
				return report, err
			}
			report.Matched++
		} else {
			report.NoMatch++
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to delete resolved clip", "path", path, "error", err)
		}
	}

	slog.Info("saved clip retry finished",
		"matched", report.Matched, "no_match", report.NoMatch, "kept", report.Kept)
	return report, nil
}
