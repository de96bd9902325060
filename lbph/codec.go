package lbph

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrModelNotFound = errors.New("model file not found")
	ErrModelCorrupt  = errors.New("model file is empty or corrupt")
)

// artifact header: magic followed by a format version byte
var magic = []byte("LBPH")

const formatVersion byte = 1

// Encode writes the model as header + zstd-compressed gob stream.
func Encode(w io.Writer, m *Model) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("refusing to encode invalid model: %w", err)
	}
	if _, err := w.Write(append(append([]byte{}, magic...), formatVersion)); err != nil {
		return fmt.Errorf("failed to write model header: %w", err)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(m); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush compressed model: %w", err)
	}
	return nil
}

// Decode reads a model written by Encode. Every malformed input is reported
// as ErrModelCorrupt.
func Decode(r io.Reader) (*Model, error) {
	header := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrModelCorrupt, err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrModelCorrupt)
	}
	if header[len(magic)] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrModelCorrupt, header[len(magic)])
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	defer zr.Close()

	var m Model
	if err := gob.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	return &m, nil
}

// SaveFile publishes the model at path atomically: readers see either the
// previous file or the complete new one. The parent directory is created if
// missing.
func SaveFile(path string, m *Model) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory '%s': %w", dir, err)
	}

	pending, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("failed to create temporary model file in '%s': %w", dir, err)
	}
	defer pending.Cleanup()

	bw := bufio.NewWriter(pending)
	if err := Encode(bw, m); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write model file '%s': %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to publish model file '%s': %w", path, err)
	}
	return nil
}

// LoadFile reads the model at path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrModelCorrupt, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelCorrupt, path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrModelCorrupt, path)
	}

	m, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
