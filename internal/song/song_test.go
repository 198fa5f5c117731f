package song

import (
	"testing"
	"time"
)

func TestSearchText(t *testing.T) {
	s := Song{Artist: "Queen", Title: "Bohemian Rhapsody"}
	if got, want := s.SearchText(), "Queen Bohemian Rhapsody"; got != want {
		t.Errorf("SearchText() = %q, want %q", got, want)
	}
}

func TestCopyTermIsolatesLinks(t *testing.T) {
	s := Song{
		ID:            "song-1",
		Title:         "Alive",
		ExternalLinks: ExternalLinks{"apple_music": "https://example.com/alive"},
	}

	cp := s.CopyTerm()
	cp.ExternalLinks["spotify"] = "https://example.com/other"

	if _, ok := s.ExternalLinks["spotify"]; ok {
		t.Error("mutating the copy's links changed the original")
	}
}

func TestMatchesMetadataCaseInsensitive(t *testing.T) {
	s := Song{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "A Night at the Opera"}

	tests := []struct {
		name string
		meta Metadata
		want bool
	}{
		{
			name: "exact",
			meta: Metadata{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "A Night at the Opera"},
			want: true,
		},
		{
			name: "mixed case",
			meta: Metadata{Title: "bohemian rhapsody", Artist: "QUEEN", Album: "a night at the opera"},
			want: true,
		},
		{
			name: "different album",
			meta: Metadata{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "Greatest Hits"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.MatchesMetadata(tt.meta); got != tt.want {
				t.Errorf("MatchesMetadata() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataNewSong(t *testing.T) {
	heardAt := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	m := Metadata{Title: "Roundabout", Artist: "Yes", Album: "Fragile"}

	s := m.NewSong("song-42", heardAt)

	if s.ID != "song-42" {
		t.Errorf("ID = %q, want song-42", s.ID)
	}
	if !s.LastHeard.Equal(heardAt) {
		t.Errorf("LastHeard = %v, want %v", s.LastHeard, heardAt)
	}
	if !s.IsNewlyHeard {
		t.Error("a freshly minted song must be newly heard")
	}
	if s.Title != m.Title || s.Artist != m.Artist || s.Album != m.Album {
		t.Errorf("metadata not carried over: %+v", s)
	}
}
