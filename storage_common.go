package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var (
	ErrCacheEntryNotFound = errors.New("cache entry not found")
	ErrInvalidPackageName = errors.New("invalid package name")
)

// treatAsCacheMiss decides whether a failed cache read should fall through to
// upstream. Any error counts today, backend failures included.
func treatAsCacheMiss(err error) bool {
	return err != nil
}

func compressText(text string) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := io.WriteString(w, text)
	if err != nil {
		return nil, fmt.Errorf("error compressing cache entry: %w", err)
	}
	err = w.Close()
	if err != nil {
		return nil, fmt.Errorf("error compressing cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressText(data []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("error decompressing cache entry: %w", err)
	}
	defer r.Close()
	var sb strings.Builder
	_, err = io.Copy(&sb, r)
	if err != nil {
		return "", fmt.Errorf("error decompressing cache entry: %w", err)
	}
	return sb.String(), nil
}

// cacheObjectPath maps a package name to the object holding its entry.
func cacheObjectPath(prefix string, packageName string) string {
	return prefix + packageName + CACHE_KEY_DELIMITER + CACHE_INDEX_OBJECT_NAME
}

// normalizePrefix makes a configured storage prefix end in exactly one delimiter.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, CACHE_KEY_DELIMITER)
	if prefix == "" {
		return ""
	}
	return prefix + CACHE_KEY_DELIMITER
}

func isScope(name string) bool {
	return strings.HasPrefix(name, NPM_SCOPE_MARKER)
}

// validatePackageName accepts "name" and "@scope/name", where no segment is
// empty, "." or "..", so every name maps to exactly one entry under the store root.
func validatePackageName(name string) error {
	if name == "." || !fs.ValidPath(name) || strings.ContainsAny(name, "\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidPackageName, name)
	}
	segments := strings.Split(name, CACHE_KEY_DELIMITER)
	switch {
	case len(segments) == 1 && isScope(name):
		return fmt.Errorf("%w: %q is a bare scope", ErrInvalidPackageName, name)
	case len(segments) == 2 && (!isScope(segments[0]) || segments[0] == NPM_SCOPE_MARKER):
		return fmt.Errorf("%w: %q is not @scope/name", ErrInvalidPackageName, name)
	case len(segments) > 2:
		return fmt.Errorf("%w: %q has too many segments", ErrInvalidPackageName, name)
	}
	return nil
}
