package song

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/earcatch/earcatch/internal/util"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "songs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func testSong(id, artist, title string, heardAt time.Time) Song {
	return Song{
		ID:           id,
		Title:        title,
		Artist:       artist,
		Album:        title + " (Album)",
		LastHeard:    heardAt,
		IsNewlyHeard: true,
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	want := testSong("id-1", "Queen", "Bohemian Rhapsody", heardAt)
	want.ExternalLinks = ExternalLinks{"apple_music": "https://example.com/bohemian"}
	if err := s.Insert(want); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, ok := s.Get("id-1")
	if !ok {
		t.Fatal("Get() did not find inserted song")
	}
	if got.Title != want.Title || got.Artist != want.Artist {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if got.ExternalLinks["apple_music"] != want.ExternalLinks["apple_music"] {
		t.Errorf("external links not preserved: %+v", got.ExternalLinks)
	}
}

func TestStoreInsertDuplicateID(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Now().UTC()

	if err := s.Insert(testSong("id-1", "Queen", "Bohemian Rhapsody", heardAt)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	err := s.Insert(testSong("id-1", "Other", "Other", heardAt))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Insert() error = %v, want ErrDuplicateID", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStoreIdentityIsID(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Now().UTC()

	a := testSong("id-1", "Queen", "Bohemian Rhapsody", heardAt)
	b := testSong("id-2", "Queen", "Bohemian Rhapsody", heardAt)
	b.Album = a.Album

	if err := s.Insert(a); err != nil {
		t.Fatalf("Insert(a) error = %v", err)
	}
	if err := s.Insert(b); err != nil {
		t.Fatalf("Insert(b): identical metadata under a new id must coexist, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "songs.db")
	heardAt := time.Date(2026, 5, 6, 7, 8, 9, 123456000, time.FixedZone("CET", 3600))

	full := Song{
		ID:            "id-full",
		Title:         "Bohemian Rhapsody",
		Artist:        "Queen",
		Album:         "A Night at the Opera",
		ReleaseDate:   "1975-10-31",
		ExternalLinks: ExternalLinks{"apple_music": "https://example.com/b", "spotify": "https://example.com/s"},
		AlbumArtLink:  "https://example.com/art.jpg",
		PlaybackLink:  "https://example.com/clip.mp3",
		Lyrics:        "Is this the real life?",
		LastHeard:     heardAt,
		IsNewlyHeard:  true,
	}
	empty := Song{ID: "id-empty", Title: "Untitled", Artist: "Unknown", LastHeard: heardAt.Add(time.Minute)}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Insert(full); err != nil {
		t.Fatalf("Insert(full) error = %v", err)
	}
	if err := s.Insert(empty); err != nil {
		t.Fatalf("Insert(empty) error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	got, ok := s2.Get("id-full")
	if !ok {
		t.Fatal("full song lost across reopen")
	}
	if got.Title != full.Title || got.Artist != full.Artist || got.Album != full.Album ||
		got.ReleaseDate != full.ReleaseDate || got.AlbumArtLink != full.AlbumArtLink ||
		got.PlaybackLink != full.PlaybackLink || got.Lyrics != full.Lyrics ||
		got.IsNewlyHeard != full.IsNewlyHeard {
		t.Errorf("reloaded song = %+v, want %+v", got, full)
	}
	if !got.LastHeard.Equal(full.LastHeard) {
		t.Errorf("LastHeard = %v, want %v", got.LastHeard, full.LastHeard)
	}
	if len(got.ExternalLinks) != 2 || got.ExternalLinks["spotify"] != full.ExternalLinks["spotify"] {
		t.Errorf("ExternalLinks = %+v, want %+v", got.ExternalLinks, full.ExternalLinks)
	}

	gotEmpty, ok := s2.Get("id-empty")
	if !ok {
		t.Fatal("minimal song lost across reopen")
	}
	if len(gotEmpty.ExternalLinks) != 0 {
		t.Errorf("minimal song grew links: %+v", gotEmpty.ExternalLinks)
	}
}

func TestStorePreservesInsertionOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "songs.db")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ids := []string{"id-c", "id-a", "id-b"}
	for i, id := range ids {
		if err := s.Insert(testSong(id, "Artist", id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	all := s2.All()
	if len(all) != len(ids) {
		t.Fatalf("len(All()) = %d, want %d", len(all), len(ids))
	}
	for i, id := range ids {
		if all[i].ID != id {
			t.Errorf("All()[%d].ID = %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestStoreTouch(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := s.Insert(testSong("id-1", "Queen", "Bohemian Rhapsody", heardAt)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	later := heardAt.Add(2 * time.Hour)
	if err := s.Touch("id-1", later, false); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	// Repeating the same touch is a no-op.
	if err := s.Touch("id-1", later, false); err != nil {
		t.Fatalf("repeated Touch() error = %v", err)
	}

	got, _ := s.Get("id-1")
	if !got.LastHeard.Equal(later) {
		t.Errorf("LastHeard = %v, want %v", got.LastHeard, later)
	}
	if got.IsNewlyHeard {
		t.Error("IsNewlyHeard = true, want false")
	}

	if err := s.Touch("missing", later, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreRemove(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Now().UTC()

	for _, id := range []string{"id-1", "id-2", "id-3"} {
		if err := s.Insert(testSong(id, "Artist", id, heardAt)); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}

	if err := s.Remove("id-2"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := s.Get("id-2"); ok {
		t.Error("removed song still present")
	}
	all := s.All()
	if len(all) != 2 || all[0].ID != "id-1" || all[1].ID != "id-3" {
		t.Errorf("order after remove = %v", all)
	}
	// Index must be rebuilt so remaining songs stay reachable.
	if _, ok := s.Get("id-3"); !ok {
		t.Error("id-3 unreachable after remove")
	}

	if err := s.Remove("id-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
}

func TestStorePersistFailureLeavesMemoryUntouched(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Now().UTC()

	if err := s.Insert(testSong("id-1", "Queen", "Bohemian Rhapsody", heardAt)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// Killing the handle makes every persist fail.
	if err := s.sqlDB.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}

	err := s.Insert(testSong("id-2", "Yes", "Roundabout", heardAt))
	if err == nil {
		t.Fatal("Insert() after closed handle succeeded")
	}
	if util.StageOf(err) != util.StagePersist {
		t.Errorf("stage = %v, want %v", util.StageOf(err), util.StagePersist)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after failed insert, want 1", s.Len())
	}

	if err := s.Touch("id-1", heardAt.Add(time.Hour), false); err == nil {
		t.Fatal("Touch() after closed handle succeeded")
	}
	got, _ := s.Get("id-1")
	if !got.LastHeard.Equal(heardAt) || !got.IsNewlyHeard {
		t.Errorf("failed touch mutated memory: %+v", got)
	}
}

func TestStoreSearch(t *testing.T) {
	s, _ := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	songs := []Song{
		testSong("id-1", "Queen", "Bohemian Rhapsody", base),
		testSong("id-2", "Queen", "Under Pressure", base.Add(time.Hour)),
		testSong("id-3", "Yes", "Roundabout", base.Add(2*time.Hour)),
	}
	for _, sg := range songs {
		if err := s.Insert(sg); err != nil {
			t.Fatalf("Insert(%s) error = %v", sg.ID, err)
		}
	}

	got := s.Search("quee")
	if len(got) != 2 {
		t.Fatalf("Search(quee) returned %d results, want 2", len(got))
	}
	for _, r := range got {
		if r.Song.Artist != "Queen" {
			t.Errorf("Search(quee) matched %s by %s", r.Song.Title, r.Song.Artist)
		}
	}

	if got := s.Search("zzzz"); len(got) != 0 {
		t.Errorf("Search(zzzz) = %d results, want 0", len(got))
	}
	if got := s.Search(""); got != nil {
		t.Errorf("Search(\"\") = %v, want nil", got)
	}
}

func TestStoreSearchTieBreaksByLastHeard(t *testing.T) {
	s, _ := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Same artist and title, so both score identically against the pattern.
	older := testSong("id-older", "Queen", "Under Pressure", base)
	older.Album = "Hot Space"
	newer := testSong("id-newer", "Queen", "Under Pressure", base.Add(time.Hour))
	newer.Album = "Greatest Hits"
	for _, sg := range []Song{older, newer} {
		if err := s.Insert(sg); err != nil {
			t.Fatalf("Insert(%s) error = %v", sg.ID, err)
		}
	}

	got := s.Search("pressure")
	if len(got) != 2 {
		t.Fatalf("Search(pressure) returned %d results, want 2", len(got))
	}
	if got[0].Score != got[1].Score {
		t.Fatalf("scores differ (%d vs %d), tie-break not exercised", got[0].Score, got[1].Score)
	}
	if got[0].Song.ID != "id-newer" || got[1].Song.ID != "id-older" {
		t.Errorf("order = %s, %s; want id-newer first", got[0].Song.ID, got[1].Song.ID)
	}

	// Hearing the older song again flips the order.
	if err := s.Touch("id-older", base.Add(2*time.Hour), false); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	got = s.Search("pressure")
	if got[0].Song.ID != "id-older" {
		t.Errorf("order after touch = %s first, want id-older", got[0].Song.ID)
	}
}

func TestStoreRecent(t *testing.T) {
	s, _ := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Insert(testSong("id-old", "A", "Old", base)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(testSong("id-new", "B", "New", base.Add(time.Hour))); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	recent := s.Recent()
	if len(recent) != 2 || recent[0].ID != "id-new" || recent[1].ID != "id-old" {
		t.Errorf("Recent() order = %v", recent)
	}
}

func TestStoreFindByMetadata(t *testing.T) {
	s, _ := openTestStore(t)
	heardAt := time.Now().UTC()

	sg := Song{ID: "id-1", Title: "Bohemian Rhapsody", Artist: "Queen", Album: "A Night at the Opera", LastHeard: heardAt}
	if err := s.Insert(sg); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, ok := s.FindByMetadata(Metadata{Title: "bohemian rhapsody", Artist: "queen", Album: "a night at the opera"})
	if !ok || got.ID != "id-1" {
		t.Errorf("FindByMetadata() = %+v, %v", got, ok)
	}

	if _, ok := s.FindByMetadata(Metadata{Title: "Other", Artist: "Queen", Album: "A Night at the Opera"}); ok {
		t.Error("FindByMetadata() matched a song that is not stored")
	}
}
