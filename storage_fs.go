package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DEFAULT_FS_PAGE_SIZE = 1000

type FSBlobCache struct {
	cacheRoot string
	pageSize  int
	sugar     *zap.SugaredLogger
}

func NewFSBlobCache(config fsConfig, sugar *zap.SugaredLogger) *FSBlobCache {
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DEFAULT_FS_PAGE_SIZE
	}
	return &FSBlobCache{
		cacheRoot: config.CacheRoot,
		pageSize:  pageSize,
		sugar:     sugar,
	}
}

func (s *FSBlobCache) entryPath(key string) (string, error) {
	err := validatePackageName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.cacheRoot, filepath.FromSlash(cacheObjectPath("", key))), nil
}

// Put writes to a temp file in the entry directory and renames it over the old
// entry, so readers never see a half-written blob.
func (s *FSBlobCache) Put(ctx context.Context, key string, text string) (err error) {
	body, err := compressText(text)
	if err != nil {
		return err
	}
	fullPath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	dirPath := filepath.Dir(fullPath)
	err = os.MkdirAll(dirPath, os.FileMode(0755))
	if err != nil {
		return fmt.Errorf("error creating cache directory %s: %w", dirPath, err)
	}

	file, err := os.CreateTemp(dirPath, ".pkgspiegel-*")
	if err != nil {
		return fmt.Errorf("error creating temp file in %s: %w", dirPath, err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(file.Name()))
		}
	}()

	_, err = file.Write(body)
	err = multierr.Append(err, file.Close())
	if err != nil {
		return fmt.Errorf("error writing cache entry %s: %w", fullPath, err)
	}
	err = os.Chmod(file.Name(), os.FileMode(0644))
	if err != nil {
		return err
	}
	s.sugar.Debugf("caching %s registry entry at %s", key, fullPath)
	return os.Rename(file.Name(), fullPath)
}

func (s *FSBlobCache) Get(ctx context.Context, key string) (string, error) {
	fullPath, err := s.entryPath(key)
	if err != nil {
		return "", err
	}
	s.sugar.Debugf("checking %s for existing %s registry entry", fullPath, key)
	contents, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrCacheEntryNotFound, fullPath)
		}
		return "", fmt.Errorf("error reading cache entry %s: %w", fullPath, err)
	}
	return decompressText(contents)
}

func (s *FSBlobCache) Enumerate(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for name, err := range s.listDirs(ctx, s.cacheRoot) {
			if err != nil {
				yield("", err)
				return
			}
			if !isScope(name) {
				if !yield(name, nil) {
					return
				}
				continue
			}
			for scoped, err := range s.listDirs(ctx, filepath.Join(s.cacheRoot, name)) {
				if err != nil {
					yield("", err)
					return
				}
				if !yield(name+CACHE_KEY_DELIMITER+scoped, nil) {
					return
				}
			}
		}
	}
}

// listDirs reads a directory pageSize entries at a time and yields the
// subdirectory names. A missing cache root is an empty cache.
func (s *FSBlobCache) listDirs(ctx context.Context, dirPath string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dir, err := os.Open(dirPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield("", fmt.Errorf("error listing cache directory %s: %w", dirPath, err))
			return
		}
		defer dir.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			entries, err := dir.ReadDir(s.pageSize)
			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}
				if !yield(entry.Name(), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("error listing cache directory %s: %w", dirPath, err))
				return
			}
		}
	}
}
