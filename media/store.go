package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/faceidbackend/logger"
)

// Store is a flat key/value blob store. Keys use forward slashes.
type Store interface {
	// Put writes the blob under key, replacing any previous content. size may
	// be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Open returns a reader for key or an error wrapping ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
	// EnsureDir makes sure the backing directory or bucket exists.
	EnsureDir(ctx context.Context) error
}

// LocalStorage implements Store on the local filesystem
type LocalStorage struct {
	basePath string // absolute root; every key resolves below it
}

// NewLocalStorage creates a filesystem store rooted at basePath. The
// directory itself is created lazily on the first write.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	logger.Infof("media.store: Initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{basePath: absBasePath}, nil
}

func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// EnsureDir creates the root directory if it doesn't exist
func (ls *LocalStorage) EnsureDir(_ context.Context) error {
	if err := os.MkdirAll(ls.basePath, 0755); err != nil {
		return fmt.Errorf("%w: failed to ensure directory '%s': %v", ErrPersistence, ls.basePath, err)
	}
	return nil
}

func (ls *LocalStorage) Put(ctx context.Context, key string, data io.Reader, _ int64) error {
	if err := ls.EnsureDir(ctx); err != nil {
		return err
	}
	fullSavePath, err := ls.GetFullPath(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(fullSavePath); dir != ls.basePath {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: failed to create sub-directory '%s': %v", ErrPersistence, dir, err)
		}
	}

	outFile, err := os.Create(fullSavePath)
	if err != nil {
		return fmt.Errorf("%w: failed to create destination file '%s': %v", ErrPersistence, fullSavePath, err)
	}

	if _, err := io.Copy(outFile, data); err != nil {
		outFile.Close()
		os.Remove(fullSavePath)
		return fmt.Errorf("%w: failed to write data to '%s': %v", ErrPersistence, fullSavePath, err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(fullSavePath)
		return fmt.Errorf("%w: failed to close '%s': %v", ErrPersistence, fullSavePath, err)
	}

	logger.Debugf("media.store: Saved asset to %s", fullSavePath)
	return nil
}

func (ls *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := ls.GetFullPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("asset not found at '%s': %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to open asset '%s': %v", ErrPersistence, key, err)
	}
	return file, nil
}

// Delete removes an asset file
func (ls *LocalStorage) Delete(_ context.Context, key string) error {
	fullPath, err := ls.GetFullPath(key)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete asset '%s': %v", ErrPersistence, key, err)
	}
	if err == nil {
		logger.Debugf("media.store: Deleted asset %s", fullPath)
	}
	return nil
}

// List walks the tree below basePath. A missing root lists as empty.
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(ls.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ls.basePath && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(ls.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list '%s': %v", ErrPersistence, ls.basePath, err)
	}
	return keys, nil
}

// GetFullPath calculates the absolute path and performs security check
func (ls *LocalStorage) GetFullPath(key string) (string, error) {
	// clean the key first to prevent simple traversal tricks
	cleanKey := filepath.Clean(filepath.FromSlash(key))
	if cleanKey == "." || filepath.IsAbs(cleanKey) {
		return "", fmt.Errorf("invalid path: access denied for '%s'", key)
	}

	absFullPath, err := filepath.Abs(filepath.Join(ls.basePath, cleanKey))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", key, err)
	}

	if !strings.HasPrefix(absFullPath, ls.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied for '%s'", key)
	}
	return absFullPath, nil
}
