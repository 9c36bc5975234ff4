package schema

import (
	"time"

	"github.com/google/uuid"
)

type Dataset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:200;not null;uniqueIndex"`

	CreatedAt time.Time

	Bundles []Bundle `gorm:"constraint:OnDelete:CASCADE"`
}

// Bundle is one prepared output directory: the record files and metadata for a
// dataset plus the vocabulary they were written with. For merged runs VocabDir
// is the shared combined directory and MergedGroup names the datasets merged.
type Bundle struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatasetId uuid.UUID `gorm:"type:uuid;not null;index"`
	Dataset   *Dataset

	Dir         string `gorm:"size:1000;not null;uniqueIndex"`
	VocabDir    string `gorm:"size:1000;not null"`
	MergedGroup string `gorm:"size:1000"`

	NumClasses        int
	MaxDocumentLength int
	VocabSize         int
	MinFrequency      int
	MaxFrequency      int
	MaxVocabSize      int
	RandomSeed        int64
	Encoding          string `gorm:"size:20"`
	VocabSource       string `gorm:"size:20"`

	TrainSize int
	ValidSize int
	TestSize  int

	CreatedAt time.Time

	Files []BundleFile `gorm:"constraint:OnDelete:CASCADE"`
}

type BundleFile struct {
	BundleId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name     string    `gorm:"size:200;primaryKey"`

	// Storage path of the file, vocabulary files of merged bundles live outside Dir.
	Path     string `gorm:"size:1000;not null"`
	Size     int64
	Checksum string `gorm:"size:100"`
}
