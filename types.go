package main

import (
	"context"
	"iter"

	"go.uber.org/zap"
)

// BlobCache stores compressed registry entry text keyed by package name.
type BlobCache interface {
	Put(ctx context.Context, key string, text string) error
	Get(ctx context.Context, key string) (string, error)
	Enumerate(ctx context.Context) iter.Seq2[string, error]
}

// UpstreamSource fetches the current registry entry for a package.
type UpstreamSource interface {
	Fetch(ctx context.Context, packageName string) (RegistryEntry, error)
}

type BlobStorageType int

const (
	STORAGE_TYPE_FS BlobStorageType = iota
	STORAGE_TYPE_S3
)

func (t BlobStorageType) String() string {
	switch t {
	case STORAGE_TYPE_FS:
		return "fs"
	case STORAGE_TYPE_S3:
		return "s3"
	}
	return "unknown"
}

// RegistryMirror holds the collaborators shared by every package mirror.
type RegistryMirror struct {
	cache          BlobCache
	upstream       UpstreamSource
	downloadPrefix string
	sugar          *zap.SugaredLogger
}

type PackageMirror struct {
	packageName    string
	downloadPrefix string
	cache          BlobCache
	upstream       UpstreamSource
	sugar          *zap.SugaredLogger
}

type UpdateResult struct {
	Written       bool
	AddedVersions []string
}

type ReconciliationSweep struct {
	mirror *RegistryMirror
	sugar  *zap.SugaredLogger
}

type SweepResult struct {
	Succeeded int
	Failed    int
	Err       error
}
