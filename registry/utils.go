package registry

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"mtl_platform/schema"
	"mtl_platform/utils"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bundlesRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtl_registry_bundles_registered_total",
		Help: "Number of dataset bundles registered.",
	})
	bundlesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtl_registry_bundles_deleted_total",
		Help: "Number of dataset bundles deleted.",
	})
)

func requestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrDatasetNotFound),
		errors.Is(err, schema.ErrBundleNotFound),
		errors.Is(err, schema.ErrBundleFileNotFound):
		utils.WriteError(w, http.StatusNotFound, err)
	default:
		utils.WriteError(w, http.StatusInternalServerError, err)
	}
}

func Checksum(data io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, data); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
