package phenology

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/klauspost/compress/gzip"

	"vinewatch/internal/types"
)

// SaveModel writes the trained model to path as gzip-compressed JSON. The
// write goes through a temp file and rename so a crash never leaves a
// truncated artifact behind.
func SaveModel(path string, m *Model) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create model artifact", err)
	}

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(m); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode model artifact", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress model artifact", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to write model artifact", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to move model artifact into place", err)
	}
	return nil
}

// LoadModel reads a model artifact written by SaveModel. Returns
// (nil, nil) when the artifact does not exist, letting the caller fall back
// to training.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to open model artifact", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "model artifact is not gzip data", err)
	}
	defer zr.Close()

	var m Model
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode model artifact", err)
	}
	return &m, nil
}
