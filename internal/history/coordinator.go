// Package history turns recognition results into song-store mutations.
package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earcatch/earcatch/internal/song"
)

// Notifier receives every successful recognition. isNew distinguishes a
// first-time song from a re-heard one.
type Notifier interface {
	SongRecognized(s song.Song, isNew bool)
}

// Coordinator owns all writes to the song store. It deduplicates
// recognitions by metadata, mints ids for new songs and fans the resulting
// change out to the notifier and the presentation boundary.
type Coordinator struct {
	store    *song.Store
	notifier Notifier
	onChange func()

	// mu serializes lookup-then-mutate sequences; the session event pump
	// and the clip retry pass call Record concurrently.
	mu sync.Mutex

	now   func() time.Time
	newID func() string
}

// Option tweaks a Coordinator.
type Option func(*Coordinator)

// WithNotifier routes recognitions to a notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithChangeHook runs fn after every successful store mutation.
func WithChangeHook(fn func()) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

func withClock(now func() time.Time, newID func() string) Option {
	return func(c *Coordinator) {
		c.now = now
		c.newID = newID
	}
}

// New creates a coordinator over the store.
func New(store *song.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record applies a recognition result. A song whose title, artist and album
// already exist (case-insensitively) is touched as newly heard; anything
// else is inserted under a fresh id. It returns the resulting song and
// whether it was new to the history.
func (c *Coordinator) Record(meta song.Metadata) (song.Song, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	heardAt := c.now()

	if existing, ok := c.store.FindByMetadata(meta); ok {
		if err := c.store.Touch(existing.ID, heardAt, true); err != nil {
			return song.Song{}, false, err
		}
		updated, _ := c.store.Get(existing.ID)
		slog.Info("recognized a known song", "id", updated.ID, "title", updated.Title, "artist", updated.Artist)
		c.changed()
		c.notify(updated, false)
		return updated, false, nil
	}

	sg := meta.NewSong(c.newID(), heardAt)
	if err := c.store.Insert(sg); err != nil {
		return song.Song{}, false, err
	}
	slog.Info("recognized a new song", "id", sg.ID, "title", sg.Title, "artist", sg.Artist)
	c.changed()
	c.notify(sg, true)
	return sg, true, nil
}

// Acknowledge clears a song's newly-heard marker. The last-heard timestamp
// is left as it was.
func (c *Coordinator) Acknowledge(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.store.Get(id)
	if !ok {
		return song.ErrNotFound
	}
	if err := c.store.Touch(id, current.LastHeard, false); err != nil {
		return err
	}
	c.changed()
	return nil
}

// Remove deletes a song from the history.
func (c *Coordinator) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Remove(id); err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Coordinator) notify(s song.Song, isNew bool) {
	if c.notifier != nil {
		c.notifier.SongRecognized(s, isNew)
	}
}
