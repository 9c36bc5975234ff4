package dataset

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mtl_platform/storage"

	"github.com/goccy/go-json"
)

func writeJSON(store storage.Storage, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("error encoding artifact", "path", path, "error", err)
		return fmt.Errorf("error encoding %v: %w", path, err)
	}
	if err := store.Write(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error writing %v: %w", path, err)
	}
	return nil
}

func readJSON(store storage.Storage, path string, v interface{}) error {
	file, err := store.Read(path)
	if err != nil {
		return fmt.Errorf("error opening %v: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("error reading artifact", "path", path, "error", err)
		return fmt.Errorf("error reading %v: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Error("error decoding artifact", "path", path, "error", err)
		return fmt.Errorf("%w: malformed %v: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func writeText(store storage.Storage, path string, text string) error {
	if err := store.Write(path, bytes.NewReader([]byte(text))); err != nil {
		return fmt.Errorf("error writing %v: %w", path, err)
	}
	return nil
}
