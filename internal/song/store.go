package song

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sahilm/fuzzy"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/earcatch/earcatch/internal/util"
)

var (
	// ErrDuplicateID is returned when inserting a song whose id already exists.
	ErrDuplicateID = errors.New("song id already exists")
	// ErrNotFound is returned when the id has no entry in the store.
	ErrNotFound = errors.New("song not found")
)

// lastHeardLayout preserves the timestamp's UTC offset in the durable record.
const lastHeardLayout = time.RFC3339Nano

// record is the durable row for one song.
type record struct {
	ID            string `gorm:"primaryKey;type:varchar(64)"`
	Title         string
	Artist        string
	Album         string
	ReleaseDate   string
	ExternalLinks string // JSON object, empty when the song has no links
	AlbumArtLink  string
	PlaybackLink  string
	Lyrics        string
	LastHeard     string
	IsNewlyHeard  bool
	Position      int `gorm:"index:idx_song_position"`
}

func (record) TableName() string { return "songs" }

func toRecord(s Song, position int) (record, error) {
	rec := record{
		ID:           s.ID,
		Title:        s.Title,
		Artist:       s.Artist,
		Album:        s.Album,
		ReleaseDate:  s.ReleaseDate,
		AlbumArtLink: s.AlbumArtLink,
		PlaybackLink: s.PlaybackLink,
		Lyrics:       s.Lyrics,
		LastHeard:    s.LastHeard.Format(lastHeardLayout),
		IsNewlyHeard: s.IsNewlyHeard,
		Position:     position,
	}
	if len(s.ExternalLinks) > 0 {
		links, err := json.Marshal(s.ExternalLinks)
		if err != nil {
			return record{}, util.WrapError("encode external links", err)
		}
		rec.ExternalLinks = string(links)
	}
	return rec, nil
}

func fromRecord(rec record) (Song, error) {
	lastHeard, err := time.Parse(lastHeardLayout, rec.LastHeard)
	if err != nil {
		return Song{}, fmt.Errorf("song %s has invalid last_heard %q: %w", rec.ID, rec.LastHeard, err)
	}
	s := Song{
		ID:           rec.ID,
		Title:        rec.Title,
		Artist:       rec.Artist,
		Album:        rec.Album,
		ReleaseDate:  rec.ReleaseDate,
		AlbumArtLink: rec.AlbumArtLink,
		PlaybackLink: rec.PlaybackLink,
		Lyrics:       rec.Lyrics,
		LastHeard:    lastHeard,
		IsNewlyHeard: rec.IsNewlyHeard,
	}
	if rec.ExternalLinks != "" {
		if err := json.Unmarshal([]byte(rec.ExternalLinks), &s.ExternalLinks); err != nil {
			return Song{}, fmt.Errorf("song %s has invalid external_links: %w", rec.ID, err)
		}
	}
	return s, nil
}

// Store is the persisted, deduplicated song history. Insertion order is the
// stored presentation order. Every mutation persists to the database before
// the in-memory view changes, so the two cannot diverge even across abrupt
// termination; a storage failure leaves both sides untouched.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB

	mu      sync.RWMutex
	songs   []Song
	index   map[string]int // id -> position in songs
	nextPos int
}

// Open opens (or creates) the song database at path and loads the history.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, util.WrapError("open song database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, util.WrapError("get sql handle", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&record{}); err != nil {
		_ = sqlDB.Close()
		return nil, util.WrapError("migrate song schema", err)
	}

	var recs []record
	if err := db.Order("position asc").Find(&recs).Error; err != nil {
		_ = sqlDB.Close()
		return nil, util.WrapError("load songs", err)
	}

	s := &Store{
		db:    db,
		sqlDB: sqlDB,
		songs: make([]Song, 0, len(recs)),
		index: make(map[string]int, len(recs)),
	}
	for _, rec := range recs {
		sg, err := fromRecord(rec)
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		s.index[sg.ID] = len(s.songs)
		s.songs = append(s.songs, sg)
		if rec.Position >= s.nextPos {
			s.nextPos = rec.Position + 1
		}
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Insert adds a song. Fails with ErrDuplicateID when the id is taken.
func (s *Store) Insert(sg Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[sg.ID]; ok {
		return ErrDuplicateID
	}

	rec, err := toRecord(sg, s.nextPos)
	if err != nil {
		return util.NewStageError(util.StagePersist, err)
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return util.NewStageError(util.StagePersist, util.WrapError("insert song", err))
	}

	s.nextPos++
	s.index[sg.ID] = len(s.songs)
	s.songs = append(s.songs, sg)
	return nil
}

// Touch updates a song's last-heard timestamp and newly-heard flag.
// Applying the same arguments twice leaves durable and in-memory state
// identical to applying them once.
func (s *Store) Touch(id string, heardAt time.Time, newlyHeard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	cur := s.songs[idx]
	if cur.LastHeard.Equal(heardAt) && cur.IsNewlyHeard == newlyHeard {
		return nil
	}

	updates := map[string]any{
		"last_heard":     heardAt.Format(lastHeardLayout),
		"is_newly_heard": newlyHeard,
	}
	if err := s.db.Model(&record{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return util.NewStageError(util.StagePersist, util.WrapError("update song", err))
	}

	s.songs[idx].LastHeard = heardAt
	s.songs[idx].IsNewlyHeard = newlyHeard
	return nil
}

// Remove deletes a song, durable record first.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}

	if err := s.db.Where("id = ?", id).Delete(&record{}).Error; err != nil {
		return util.NewStageError(util.StagePersist, util.WrapError("delete song", err))
	}

	s.songs = append(s.songs[:idx], s.songs[idx+1:]...)
	delete(s.index, id)
	for i := idx; i < len(s.songs); i++ {
		s.index[s.songs[i].ID] = i
	}
	return nil
}

// Get returns the song with the given id.
func (s *Store) Get(id string) (Song, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[id]
	if !ok {
		return Song{}, false
	}
	return s.songs[idx], true
}

// FindByMetadata returns the first song matching the metadata's title,
// artist and album case-insensitively.
func (s *Store) FindByMetadata(m Metadata) (Song, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.songs {
		if s.songs[i].MatchesMetadata(m) {
			return s.songs[i], true
		}
	}
	return Song{}, false
}

// All returns the full history in storage (insertion) order.
func (s *Store) All() []Song {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Song, len(s.songs))
	copy(out, s.songs)
	return out
}

// Recent returns the history ordered by most-recently-heard first.
func (s *Store) Recent() []Song {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastHeard.After(out[j].LastHeard)
	})
	return out
}

// Len returns the number of songs in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.songs)
}

// Scored pairs a song with its fuzzy match score.
type Scored struct {
	Song  Song `json:"song"`
	Score int  `json:"score"`
}

// Search fuzzy-matches the pattern against "{artist} {title}" for every
// song and returns matches by descending score, ties broken by the more
// recently heard song.
func (s *Store) Search(pattern string) []Scored {
	if pattern == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make([]string, len(s.songs))
	for i := range s.songs {
		targets[i] = s.songs[i].SearchText()
	}

	matches := fuzzy.Find(pattern, targets)
	out := make([]Scored, 0, len(matches))
	for _, m := range matches {
		out = append(out, Scored{Song: s.songs[m.Index], Score: m.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Song.LastHeard.After(out[j].Song.LastHeard)
	})
	return out
}
