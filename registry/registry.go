package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"mtl_platform/dataset"
	"mtl_platform/schema"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"path/filepath"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DatasetRegistry records the bundles produced by the prep tools so that
// training jobs can look up the record files, vocabulary and metadata of a
// dataset without knowing the directory layout of the prep run.
type DatasetRegistry struct {
	db *gorm.DB

	store storage.Storage

	auth *jwtauth.JWTAuth
}

func New(db *gorm.DB, store storage.Storage, jwtSecret []byte) *DatasetRegistry {
	return &DatasetRegistry{
		db:    db,
		store: store,
		auth:  jwtauth.New("HS256", jwtSecret, nil),
	}
}

// IssueToken returns a token accepted by the mutating routes.
func (registry *DatasetRegistry) IssueToken(subject string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{"sub": subject}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)

	_, token, err := registry.auth.Encode(claims)
	if err != nil {
		slog.Error("error encoding registry token", "code", logging.REGISTRY, "error", err)
		return "", fmt.Errorf("error encoding token: %w", err)
	}
	return token, nil
}

func bundleFileNames(meta *dataset.Metadata) ([]string, []string) {
	records := []string{"train.tf", "valid.tf", "test.tf", dataset.MetadataFile, dataset.VocabSizeFile}
	vocab := []string{
		dataset.FreqDictFile(meta.MinFrequency),
		dataset.V2iFile(meta.MinFrequency),
		dataset.I2vFile(meta.MinFrequency),
	}
	return records, vocab
}

func (registry *DatasetRegistry) describeFile(name, path string) (schema.BundleFile, error) {
	size, err := registry.store.Size(path)
	if err != nil {
		return schema.BundleFile{}, fmt.Errorf("bundle file %v is missing: %w", path, err)
	}

	file, err := registry.store.Read(path)
	if err != nil {
		return schema.BundleFile{}, err
	}
	defer file.Close()

	checksum, err := Checksum(file)
	if err != nil {
		slog.Error("error computing checksum", "code", logging.REGISTRY, "path", path, "error", err)
		return schema.BundleFile{}, fmt.Errorf("error computing checksum of %v: %w", path, err)
	}

	return schema.BundleFile{Name: name, Path: path, Size: size, Checksum: checksum}, nil
}

// Register records the bundle written to dir, whose vocabulary files live in
// vocabDir. Registering a directory again replaces the previous bundle.
func (registry *DatasetRegistry) Register(meta *dataset.Metadata, dir, vocabDir, group string) (schema.Bundle, error) {
	bundle := schema.Bundle{
		Id:                uuid.New(),
		Dir:               dir,
		VocabDir:          vocabDir,
		MergedGroup:       group,
		NumClasses:        meta.NumClasses,
		MaxDocumentLength: meta.MaxDocumentLength,
		VocabSize:         meta.VocabSize,
		MinFrequency:      meta.MinFrequency,
		MaxFrequency:      meta.MaxFrequency,
		MaxVocabSize:      meta.MaxVocabSize,
		RandomSeed:        meta.RandomSeed,
		Encoding:          meta.Encoding,
		VocabSource:       meta.VocabSource,
		TrainSize:         meta.TrainSize,
		ValidSize:         meta.ValidSize,
		TestSize:          meta.TestSize,
	}

	records, vocab := bundleFileNames(meta)
	for _, name := range records {
		file, err := registry.describeFile(name, filepath.Join(dir, name))
		if err != nil {
			return schema.Bundle{}, err
		}
		bundle.Files = append(bundle.Files, file)
	}
	for _, name := range vocab {
		file, err := registry.describeFile(name, filepath.Join(vocabDir, name))
		if err != nil {
			return schema.Bundle{}, err
		}
		bundle.Files = append(bundle.Files, file)
	}

	err := registry.db.Transaction(func(txn *gorm.DB) error {
		ds, err := schema.GetDataset(meta.Dataset, txn)
		if errors.Is(err, schema.ErrDatasetNotFound) {
			ds = schema.Dataset{Id: uuid.New(), Name: meta.Dataset}
			if result := txn.Create(&ds); result.Error != nil {
				slog.Error("sql error creating dataset", "code", logging.REGISTRY, "dataset", meta.Dataset, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		} else if err != nil {
			return err
		}

		existing, err := schema.GetBundleByDir(dir, txn)
		if err == nil {
			if err := removeBundleRows(txn, existing.Id); err != nil {
				return err
			}
		} else if !errors.Is(err, schema.ErrBundleNotFound) {
			return err
		}

		bundle.DatasetId = ds.Id
		if result := txn.Create(&bundle); result.Error != nil {
			slog.Error("sql error creating bundle", "code", logging.REGISTRY, "dir", dir, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return schema.Bundle{}, fmt.Errorf("error registering bundle %v: %w", dir, err)
	}

	bundlesRegistered.Inc()
	slog.Info("registered bundle", "code", logging.REGISTRY, "dataset", meta.Dataset, "bundle_id", bundle.Id, "dir", dir, "files", len(bundle.Files))

	return bundle, nil
}

func removeBundleRows(txn *gorm.DB, bundleId uuid.UUID) error {
	if result := txn.Where("bundle_id = ?", bundleId).Delete(&schema.BundleFile{}); result.Error != nil {
		slog.Error("sql error deleting bundle files", "code", logging.REGISTRY, "bundle_id", bundleId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	if result := txn.Where("id = ?", bundleId).Delete(&schema.Bundle{}); result.Error != nil {
		slog.Error("sql error deleting bundle", "code", logging.REGISTRY, "bundle_id", bundleId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (registry *DatasetRegistry) ListDatasets() ([]schema.Dataset, error) {
	var datasets []schema.Dataset
	result := registry.db.Preload("Bundles").Order("name").Find(&datasets)
	if result.Error != nil {
		slog.Error("sql error listing datasets", "code", logging.REGISTRY, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return datasets, nil
}

type BundleFilter struct {
	Dataset string
	Group   string
}

func (registry *DatasetRegistry) ListBundles(filter BundleFilter) ([]schema.Bundle, error) {
	query := registry.db.Preload("Dataset")

	if filter.Dataset != "" {
		ds, err := schema.GetDataset(filter.Dataset, registry.db)
		if errors.Is(err, schema.ErrDatasetNotFound) {
			return []schema.Bundle{}, nil
		}
		if err != nil {
			return nil, err
		}
		query = query.Where("dataset_id = ?", ds.Id)
	}
	if filter.Group != "" {
		query = query.Where("merged_group = ?", filter.Group)
	}

	var bundles []schema.Bundle
	if result := query.Order("created_at").Order("dir").Find(&bundles); result.Error != nil {
		slog.Error("sql error listing bundles", "code", logging.REGISTRY, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return bundles, nil
}

func (registry *DatasetRegistry) GetBundle(bundleId uuid.UUID) (schema.Bundle, error) {
	return schema.GetBundle(bundleId, registry.db, true)
}

// DeleteBundle removes the bundle rows and its record directory. A shared
// vocabulary directory is left in place since other bundles of the merged
// group still reference it.
func (registry *DatasetRegistry) DeleteBundle(bundleId uuid.UUID) error {
	bundle, err := schema.GetBundle(bundleId, registry.db, false)
	if err != nil {
		return err
	}

	if err := registry.store.Delete(bundle.Dir); err != nil {
		return fmt.Errorf("unable to delete bundle files: %w", err)
	}

	err = registry.db.Transaction(func(txn *gorm.DB) error {
		return removeBundleRows(txn, bundleId)
	})
	if err != nil {
		return fmt.Errorf("error deleting bundle %v: %w", bundleId, err)
	}

	bundlesDeleted.Inc()
	slog.Info("deleted bundle", "code", logging.REGISTRY, "bundle_id", bundleId, "dir", bundle.Dir)

	return nil
}
