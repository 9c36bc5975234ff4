package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrDatasetNotFound    = errors.New("dataset not found")
	ErrBundleNotFound     = errors.New("bundle not found")
	ErrBundleFileNotFound = errors.New("bundle file not found")
	ErrDbAccessFailed     = errors.New("db access failed")
)

func GetDataset(name string, db *gorm.DB) (Dataset, error) {
	var dataset Dataset

	result := db.First(&dataset, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return dataset, ErrDatasetNotFound
		}
		slog.Error("sql error in get dataset", "dataset", name, "error", result.Error)
		return dataset, ErrDbAccessFailed
	}

	return dataset, nil
}

func GetBundle(bundleId uuid.UUID, db *gorm.DB, loadFiles bool) (Bundle, error) {
	var bundle Bundle

	var result *gorm.DB = db.Preload("Dataset")
	if loadFiles {
		result = result.Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("name") })
	}
	result = result.First(&bundle, "id = ?", bundleId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return bundle, ErrBundleNotFound
		}
		slog.Error("sql error in get bundle", "bundle_id", bundleId, "error", result.Error)
		return bundle, ErrDbAccessFailed
	}

	return bundle, nil
}

func GetBundleByDir(dir string, db *gorm.DB) (Bundle, error) {
	var bundle Bundle

	result := db.First(&bundle, "dir = ?", dir)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return bundle, ErrBundleNotFound
		}
		slog.Error("sql error in get bundle by dir", "dir", dir, "error", result.Error)
		return bundle, ErrDbAccessFailed
	}

	return bundle, nil
}

func GetBundleFile(bundleId uuid.UUID, name string, db *gorm.DB) (BundleFile, error) {
	var file BundleFile

	result := db.First(&file, "bundle_id = ? AND name = ?", bundleId, name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return file, ErrBundleFileNotFound
		}
		slog.Error("sql error in get bundle file", "bundle_id", bundleId, "file", name, "error", result.Error)
		return file, ErrDbAccessFailed
	}

	return file, nil
}
