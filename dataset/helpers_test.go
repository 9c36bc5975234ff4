package dataset

import (
	"fmt"
	"mtl_platform/config"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func writeGzFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0777))

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	writer := gzip.NewWriter(file)
	_, err = writer.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
}

func writeGzJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	writeGzFile(t, path, data)
}

var words = []string{"good", "bad", "movie", "plot", "actor", "boring", "great", "scene", "music", "ending"}

// makeItems builds n examples whose text draws on words with a per dataset
// offset, labelled by parity.
func makeItems(n, offset int) []map[string]interface{} {
	items := make([]map[string]interface{}, n)
	for i := range items {
		text := ""
		for j := 0; j <= i%4; j++ {
			text += words[(i+j+offset)%len(words)] + " "
		}
		items[i] = map[string]interface{}{
			"text":  text + fmt.Sprintf("Word%d", i%3),
			"label": i % 2,
			"index": i,
		}
	}
	return items
}

func writeDataset(t *testing.T, root, name string, items []map[string]interface{}, index interface{}) {
	t.Helper()
	writeGzJSON(t, filepath.Join(root, name, DataFile), items)
	if index != nil {
		writeGzJSON(t, filepath.Join(root, name, IndexFile), index)
	}
}

func testConfig(t *testing.T, modify func(cfg *config.PrepConfig)) *config.PrepConfig {
	t.Helper()
	cfg := &config.PrepConfig{}
	if modify != nil {
		modify(cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}
