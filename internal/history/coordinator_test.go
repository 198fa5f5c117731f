package history

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/earcatch/earcatch/internal/song"
)

type recordedNotification struct {
	song  song.Song
	isNew bool
}

type captureNotifier struct {
	got []recordedNotification
}

func (n *captureNotifier) SongRecognized(s song.Song, isNew bool) {
	n.got = append(n.got, recordedNotification{song: s, isNew: isNew})
}

func openStore(t *testing.T) *song.Store {
	t.Helper()
	s, err := song.Open(filepath.Join(t.TempDir(), "songs.db"))
	if err != nil {
		t.Fatalf("song.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestCoordinator(t *testing.T, store *song.Store, opts ...Option) (*Coordinator, *int) {
	t.Helper()
	changes := 0
	ids := 0
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	opts = append(opts,
		WithChangeHook(func() { changes++ }),
		withClock(
			func() time.Time { now = now.Add(time.Minute); return now },
			func() string { ids++; return "id-" + string(rune('0'+ids)) },
		),
	)
	return New(store, opts...), &changes
}

func TestRecordInsertsThenTouches(t *testing.T) {
	store := openStore(t)
	notifier := &captureNotifier{}
	c, changes := newTestCoordinator(t, store, WithNotifier(notifier))

	meta := song.Metadata{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "A Night at the Opera"}

	first, isNew, err := c.Record(meta)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !isNew {
		t.Error("first recognition not reported as new")
	}
	if first.ID == "" || !first.IsNewlyHeard {
		t.Errorf("first = %+v", first)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}

	// Same metadata again, different case: touch, not insert.
	again := song.Metadata{Title: "bohemian rhapsody", Artist: "QUEEN", Album: "a night at the opera"}
	second, isNew, err := c.Record(again)
	if err != nil {
		t.Fatalf("second Record() error = %v", err)
	}
	if isNew {
		t.Error("repeat recognition reported as new")
	}
	if second.ID != first.ID {
		t.Errorf("repeat minted a new id: %s vs %s", second.ID, first.ID)
	}
	if !second.LastHeard.After(first.LastHeard) {
		t.Errorf("LastHeard not advanced: %v -> %v", first.LastHeard, second.LastHeard)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d after repeat, want 1", store.Len())
	}

	if len(notifier.got) != 2 || !notifier.got[0].isNew || notifier.got[1].isNew {
		t.Errorf("notifications = %+v", notifier.got)
	}
	if *changes != 2 {
		t.Errorf("change hook ran %d times, want 2", *changes)
	}
}

func TestRecordDistinctAlbumsStaySeparate(t *testing.T) {
	store := openStore(t)
	c, _ := newTestCoordinator(t, store)

	if _, _, err := c.Record(song.Metadata{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "A Night at the Opera"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, _, err := c.Record(song.Metadata{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "Greatest Hits"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (albums differ)", store.Len())
	}
}

func TestRecordConcurrentSameMetadataInsertsOnce(t *testing.T) {
	store := openStore(t)
	c, _ := newTestCoordinator(t, store)

	// The session event pump and the clip retry pass can both report the
	// same unseen song at the same time; only one insert may win.
	meta := song.Metadata{Title: "Under Pressure", Artist: "Queen", Album: "Hot Space"}

	const workers = 8
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, isNew, err := c.Record(meta)
			if err != nil {
				t.Errorf("Record() error = %v", err)
				return
			}
			results <- isNew
		}()
	}
	wg.Wait()
	close(results)

	inserts := 0
	for isNew := range results {
		if isNew {
			inserts++
		}
	}
	if inserts != 1 {
		t.Errorf("%d recognitions reported as new, want 1", inserts)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestAcknowledge(t *testing.T) {
	store := openStore(t)
	c, changes := newTestCoordinator(t, store)

	sg, _, err := c.Record(song.Metadata{Title: "Roundabout", Artist: "Yes", Album: "Fragile"})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if err := c.Acknowledge(sg.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	got, _ := store.Get(sg.ID)
	if got.IsNewlyHeard {
		t.Error("IsNewlyHeard still set after acknowledge")
	}
	if !got.LastHeard.Equal(sg.LastHeard) {
		t.Errorf("acknowledge moved LastHeard: %v -> %v", sg.LastHeard, got.LastHeard)
	}
	if *changes != 2 {
		t.Errorf("change hook ran %d times, want 2", *changes)
	}

	if err := c.Acknowledge("missing"); !errors.Is(err, song.ErrNotFound) {
		t.Errorf("Acknowledge(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	store := openStore(t)
	c, _ := newTestCoordinator(t, store)

	sg, _, err := c.Record(song.Metadata{Title: "Roundabout", Artist: "Yes", Album: "Fragile"})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := c.Remove(sg.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after remove, want 0", store.Len())
	}
	if err := c.Remove(sg.ID); !errors.Is(err, song.ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
}
