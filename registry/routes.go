package registry

import (
	"fmt"
	"io"
	"log/slog"
	"mtl_platform/dataset"
	"mtl_platform/schema"
	"mtl_platform/utils"
	"mtl_platform/utils/logging"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (registry *DatasetRegistry) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Get("/datasets", registry.listDatasets)
		r.Get("/bundles", registry.listBundles)
		r.Get("/bundles/{bundle_id}", registry.getBundle)
		r.Get("/bundles/{bundle_id}/files/{file}", registry.downloadFile)
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(registry.auth))
		r.Use(jwtauth.Authenticator(registry.auth))

		r.Delete("/bundles/{bundle_id}", registry.deleteBundle)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

type DatasetInfo struct {
	Id         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	NumBundles int       `json:"num_bundles"`
	CreatedAt  time.Time `json:"created_at"`
}

type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

type BundleInfo struct {
	Id          uuid.UUID        `json:"id"`
	Dataset     string           `json:"dataset"`
	Dir         string           `json:"dir"`
	VocabDir    string           `json:"vocab_dir"`
	MergedGroup string           `json:"merged_group,omitempty"`
	Metadata    dataset.Metadata `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
	Files       []FileInfo       `json:"files,omitempty"`
}

func convertToBundleInfo(bundle schema.Bundle) BundleInfo {
	name := ""
	if bundle.Dataset != nil {
		name = bundle.Dataset.Name
	}

	files := make([]FileInfo, 0, len(bundle.Files))
	for _, file := range bundle.Files {
		files = append(files, FileInfo{Name: file.Name, Size: file.Size, Checksum: file.Checksum})
	}

	return BundleInfo{
		Id:          bundle.Id,
		Dataset:     name,
		Dir:         bundle.Dir,
		VocabDir:    bundle.VocabDir,
		MergedGroup: bundle.MergedGroup,
		Metadata: dataset.Metadata{
			Dataset:           name,
			NumClasses:        bundle.NumClasses,
			MaxDocumentLength: bundle.MaxDocumentLength,
			VocabSize:         bundle.VocabSize,
			MinFrequency:      bundle.MinFrequency,
			MaxFrequency:      bundle.MaxFrequency,
			MaxVocabSize:      bundle.MaxVocabSize,
			RandomSeed:        bundle.RandomSeed,
			Encoding:          bundle.Encoding,
			TrainSize:         bundle.TrainSize,
			ValidSize:         bundle.ValidSize,
			TestSize:          bundle.TestSize,
			VocabSource:       bundle.VocabSource,
		},
		CreatedAt: bundle.CreatedAt,
		Files:     files,
	}
}

func (registry *DatasetRegistry) listDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := registry.ListDatasets()
	if err != nil {
		requestError(w, err)
		return
	}

	infos := make([]DatasetInfo, 0, len(datasets))
	for _, ds := range datasets {
		infos = append(infos, DatasetInfo{Id: ds.Id, Name: ds.Name, NumBundles: len(ds.Bundles), CreatedAt: ds.CreatedAt})
	}

	utils.WriteJson(w, http.StatusOK, infos)
}

func (registry *DatasetRegistry) listBundles(w http.ResponseWriter, r *http.Request) {
	filter := BundleFilter{
		Dataset: r.URL.Query().Get("dataset"),
		Group:   r.URL.Query().Get("group"),
	}

	bundles, err := registry.ListBundles(filter)
	if err != nil {
		requestError(w, err)
		return
	}

	infos := make([]BundleInfo, 0, len(bundles))
	for _, bundle := range bundles {
		infos = append(infos, convertToBundleInfo(bundle))
	}

	utils.WriteJson(w, http.StatusOK, infos)
}

func (registry *DatasetRegistry) getBundle(w http.ResponseWriter, r *http.Request) {
	bundleId, err := utils.PathUUID(r, "bundle_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	bundle, err := registry.GetBundle(bundleId)
	if err != nil {
		requestError(w, err)
		return
	}

	utils.WriteJson(w, http.StatusOK, convertToBundleInfo(bundle))
}

func (registry *DatasetRegistry) downloadFile(w http.ResponseWriter, r *http.Request) {
	bundleId, err := utils.PathUUID(r, "bundle_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}
	name, err := utils.PathParam(r, "file")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	file, err := schema.GetBundleFile(bundleId, name, registry.db)
	if err != nil {
		requestError(w, err)
		return
	}

	data, err := registry.store.Read(file.Path)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, fmt.Errorf("unable to read bundle file: %w", err))
		return
	}
	defer data.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Digest", "sha-256="+file.Checksum)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, data); err != nil {
		slog.Error("error streaming bundle file", "code", logging.REGISTRY, "path", file.Path, "error", err)
	}
}

func (registry *DatasetRegistry) deleteBundle(w http.ResponseWriter, r *http.Request) {
	bundleId, err := utils.PathUUID(r, "bundle_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := registry.DeleteBundle(bundleId); err != nil {
		requestError(w, err)
		return
	}

	utils.WriteSuccess(w)
}
