// Package mediarepo provides the MediaRepository collaborator (spec §6):
// resolve a MediaId to a source path and optional stored codec hints. It
// mirrors the media server's GORM/SQLite persistence stack, trimmed to
// the one table the streaming core actually needs.
package mediarepo

import (
	"errors"
	"fmt"

	"github.com/laurelhollow/streamhls/internal/kinderr"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Media is the persisted record a MediaRepository resolves by id.
type Media struct {
	ID               string `gorm:"primaryKey;column:id"`
	SourcePath       string `gorm:"column:source_path;not null"`
	StoredVideoCodec string `gorm:"column:stored_video_codec"`
	StoredAudioCodec string `gorm:"column:stored_audio_codec"`
}

// TableName pins the GORM table name regardless of pluralization rules.
func (Media) TableName() string { return "media" }

// Repository is the MediaRepository collaborator interface consumed by
// internal/analysis.
type Repository interface {
	// FindByID resolves a MediaId to its source path and codec hints.
	// Returns a kinderr.NotFound error if the id is unknown.
	FindByID(mediaID string) (*Media, error)
}

// Store is a GORM/SQLite-backed Repository.
type Store struct {
	db *gorm.DB
}

// Open connects to (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("mediarepo: opening %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Media{}); err != nil {
		return nil, fmt.Errorf("mediarepo: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open *gorm.DB, for callers (and tests) that
// manage the connection themselves.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByID implements Repository.
func (s *Store) FindByID(mediaID string) (*Media, error) {
	var m Media
	err := s.db.Where("id = ?", mediaID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kinderr.New(kinderr.NotFound, fmt.Sprintf("media %q not found", mediaID))
	}
	if err != nil {
		return nil, fmt.Errorf("mediarepo: querying media %q: %w", mediaID, err)
	}
	return &m, nil
}

// Upsert inserts or replaces a media record. Exposed for tests and for
// any future ingest path; the streaming core itself only ever reads.
func (s *Store) Upsert(m *Media) error {
	return s.db.Save(m).Error
}

// Count returns the total number of known media records, backing the
// /api/streaming/stats endpoint (SPEC_FULL §5).
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.Raw("SELECT COUNT(*) FROM media").Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("mediarepo: counting media: %w", err)
	}
	return n, nil
}
