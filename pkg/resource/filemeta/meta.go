package filemeta

import (
	"encoding/gob"
	"errors"
	"io/fs"
	"os"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// FileMeta holds the dataset types of a file data source, including the
// keys and geometry metadata a text format cannot carry. It is serialized
// as a gob-encoded sidecar file alongside the data file.
type FileMeta struct {
	Types []*domain.DataSetType
}

// Type returns the saved type named name, or nil.
func (m *FileMeta) Type(name string) *domain.DataSetType {
	if m == nil {
		return nil
	}
	for _, dt := range m.Types {
		if dt.Name == name {
			return dt
		}
	}
	return nil
}

// MetaPath returns the sidecar metadata path for a data file.
// Convention: <dataFile>.geoaccess_meta
func MetaPath(dataFilePath string) string {
	return dataFilePath + ".geoaccess_meta"
}

// Save serializes FileMeta to disk using gob encoding.
func Save(metaPath string, meta *FileMeta) error {
	f, err := os.Create(metaPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewEncoder(f).Encode(meta)
}

// Load deserializes FileMeta from disk. Returns nil, nil if file doesn't exist.
func Load(metaPath string) (*FileMeta, error) {
	f, err := os.Open(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var meta FileMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
