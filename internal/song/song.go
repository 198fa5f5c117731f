// Package song defines the song model and the persisted, searchable
// song history.
package song

import (
	"strings"
	"time"
)

// ExternalLinks maps a provider key (e.g. "spotify", "apple_music") to a URL.
type ExternalLinks map[string]string

// Clone returns a copy of the link map. A nil map stays nil.
func (l ExternalLinks) Clone() ExternalLinks {
	if l == nil {
		return nil
	}
	out := make(ExternalLinks, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Song is one entry in the recognition history. The ID is opaque, globally
// unique and stable across persistence round-trips; identity is the ID, not
// the content. Optional fields are empty when absent.
//
// The JSON field names are the durable record schema, used both for storage
// and for export.
type Song struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Artist        string        `json:"artist"`
	Album         string        `json:"album"`
	ReleaseDate   string        `json:"release_date,omitempty"`
	ExternalLinks ExternalLinks `json:"external_links,omitempty"`
	AlbumArtLink  string        `json:"album_art_link,omitempty"`
	PlaybackLink  string        `json:"playback_link,omitempty"`
	Lyrics        string        `json:"lyrics,omitempty"`
	LastHeard     time.Time     `json:"last_heard"`
	IsNewlyHeard  bool          `json:"is_newly_heard"`
}

// SearchText is the string fuzzy search scores against.
func (s *Song) SearchText() string {
	return s.Artist + " " + s.Title
}

// CopyTerm is the string placed on the clipboard when copying a song.
func (s *Song) CopyTerm() string {
	return s.Artist + " - " + s.Title
}

// MatchesMetadata reports whether the song has the same title, artist and
// album as the metadata, compared case-insensitively.
func (s *Song) MatchesMetadata(m Metadata) bool {
	return strings.EqualFold(s.Title, m.Title) &&
		strings.EqualFold(s.Artist, m.Artist) &&
		strings.EqualFold(s.Album, m.Album)
}

// Metadata mirrors the song fields the recognition service can return:
// everything except identity, last-heard and the newly-heard flag.
type Metadata struct {
	Title         string        `json:"title"`
	Artist        string        `json:"artist"`
	Album         string        `json:"album"`
	ReleaseDate   string        `json:"release_date,omitempty"`
	ExternalLinks ExternalLinks `json:"external_links,omitempty"`
	AlbumArtLink  string        `json:"album_art_link,omitempty"`
	PlaybackLink  string        `json:"playback_link,omitempty"`
	Lyrics        string        `json:"lyrics,omitempty"`
}

// NewSong builds a newly-heard Song from recognition metadata.
func (m Metadata) NewSong(id string, heardAt time.Time) Song {
	return Song{
		ID:            id,
		Title:         m.Title,
		Artist:        m.Artist,
		Album:         m.Album,
		ReleaseDate:   m.ReleaseDate,
		ExternalLinks: m.ExternalLinks.Clone(),
		AlbumArtLink:  m.AlbumArtLink,
		PlaybackLink:  m.PlaybackLink,
		Lyrics:        m.Lyrics,
		LastHeard:     heardAt,
		IsNewlyHeard:  true,
	}
}
