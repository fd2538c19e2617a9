package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	semver "github.com/blang/semver/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func NewRegistryMirror(cache BlobCache, upstream UpstreamSource, downloadPrefix string, sugar *zap.SugaredLogger) *RegistryMirror {
	return &RegistryMirror{
		cache:          cache,
		upstream:       upstream,
		downloadPrefix: strings.TrimSuffix(downloadPrefix, "/"),
		sugar:          sugar,
	}
}

func (m *RegistryMirror) Package(packageName string) *PackageMirror {
	return &PackageMirror{
		packageName:    packageName,
		downloadPrefix: m.downloadPrefix,
		cache:          m.cache,
		upstream:       m.upstream,
		sugar:          m.sugar,
	}
}

// EnumerateCachedNames lists every package that has a cache entry.
func (m *RegistryMirror) EnumerateCachedNames(ctx context.Context) iter.Seq2[string, error] {
	return m.cache.Enumerate(ctx)
}

func (p *PackageMirror) String() string {
	return p.packageName
}

func (p *PackageMirror) VersionURI(version string) string {
	return fmt.Sprintf("%s/%s/%s", p.downloadPrefix, p.packageName, version)
}

func (p *PackageMirror) FetchUpstream(ctx context.Context) (RegistryEntry, error) {
	return p.upstream.Fetch(ctx, p.packageName)
}

// RewriteLinks points every version's dist.tarball at the mirror.
func (p *PackageMirror) RewriteLinks(entry RegistryEntry) error {
	versions, err := entry.Versions()
	if err != nil {
		return err
	}
	for version, raw := range versions {
		versions[version], err = withTarball(version, raw, p.VersionURI(version))
		if err != nil {
			return err
		}
	}
	return entry.SetVersions(versions)
}

// GetOrPopulate returns the cached entry text as stored, or fetches, rewrites
// and caches the upstream entry when the cache cannot serve it.
func (p *PackageMirror) GetOrPopulate(ctx context.Context) (string, error) {
	text, err := p.cache.Get(ctx, p.packageName)
	if !treatAsCacheMiss(err) {
		p.sugar.Debugf("existing %s registry entry found", p.packageName)
		return text, nil
	}
	if !errors.Is(err, ErrCacheEntryNotFound) {
		p.sugar.Warnf("cache read for %s failed, populating from upstream: %v", p.packageName, err)
	}
	return p.populate(ctx)
}

func (p *PackageMirror) populate(ctx context.Context) (string, error) {
	entry, err := p.FetchUpstream(ctx)
	if err != nil {
		return "", err
	}
	err = p.RewriteLinks(entry)
	if err != nil {
		return "", fmt.Errorf("error rewriting links for %s: %w", p.packageName, err)
	}
	text, err := entry.Serialize()
	if err != nil {
		return "", err
	}
	p.sugar.Infof("caching %s registry entry", p.packageName)
	err = p.cache.Put(ctx, p.packageName, text)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Update folds newer upstream data into the cached entry. Upstream wins for
// every top-level field except versions; versions already cached are kept as
// they are and only new ones are added.
//
// An upstream entry without a usable modified timestamp fails with
// ErrMalformedEntry rather than being skipped, so such packages show up as
// sweep failures. A cached entry without one is refreshed.
func (p *PackageMirror) Update(ctx context.Context) (UpdateResult, error) {
	var upstream RegistryEntry
	var cachedText string

	var g errgroup.Group
	g.Go(func() (err error) {
		upstream, err = p.FetchUpstream(ctx)
		return err
	})
	g.Go(func() (err error) {
		cachedText, err = p.GetOrPopulate(ctx)
		return err
	})
	err := g.Wait()
	if err != nil {
		return UpdateResult{}, err
	}

	cached, err := ParseRegistryEntry([]byte(cachedText))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("error parsing cached entry for %s: %w", p.packageName, err)
	}
	upstreamModified, err := upstream.Modified()
	if err != nil {
		return UpdateResult{}, fmt.Errorf("error reading upstream entry for %s: %w", p.packageName, err)
	}
	cachedModified, err := cached.Modified()
	if err != nil {
		p.sugar.Warnf("cached entry for %s has no usable modified time, treating as stale: %v", p.packageName, err)
		cachedModified = time.Time{}
	}

	if !cachedModified.Before(upstreamModified) {
		p.sugar.Debugf("%s is up to date (cached %s, upstream %s)", p.packageName, cachedModified, upstreamModified)
		return UpdateResult{}, nil
	}

	p.sugar.Infof("package %s has been modified upstream; updating its cache entry", p.packageName)
	added, err := p.merge(cached, upstream)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("error merging upstream entry for %s: %w", p.packageName, err)
	}
	text, err := cached.Serialize()
	if err != nil {
		return UpdateResult{}, err
	}
	err = p.cache.Put(ctx, p.packageName, text)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Written: true, AddedVersions: added}, nil
}

// merge mutates cached in place and returns the versions it added.
func (p *PackageMirror) merge(cached RegistryEntry, upstream RegistryEntry) ([]string, error) {
	cachedVersions, err := cached.Versions()
	if err != nil {
		return nil, err
	}
	upstreamVersions, err := upstream.Versions()
	if err != nil {
		return nil, err
	}

	for field, raw := range upstream {
		if field == ENTRY_FIELD_VERSIONS {
			continue
		}
		cached[field] = raw
	}

	// cached versions only ever gain a tarball they never had
	for version, raw := range cachedVersions {
		found, err := hasTarball(version, raw)
		if err != nil {
			p.sugar.Warnf("leaving unreadable cached version %s of %s untouched: %v", version, p.packageName, err)
			continue
		}
		if found {
			continue
		}
		cachedVersions[version], err = withTarball(version, raw, p.VersionURI(version))
		if err != nil {
			return nil, err
		}
	}

	var added []string
	for version, raw := range upstreamVersions {
		if _, ok := cachedVersions[version]; ok {
			continue
		}
		rewritten, err := withTarball(version, raw, p.VersionURI(version))
		if err != nil {
			return nil, err
		}
		cachedVersions[version] = rewritten
		added = append(added, version)
	}
	sortVersions(added)
	for _, version := range added {
		p.sugar.Infof("adding new version %s to %s entry", version, p.packageName)
	}

	err = cached.SetVersions(cachedVersions)
	if err != nil {
		return nil, err
	}
	return added, nil
}

// sortVersions orders semver-parseable versions first, by precedence, then the
// rest lexically.
func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, errI := semver.ParseTolerant(versions[i])
		vj, errJ := semver.ParseTolerant(versions[j])
		switch {
		case errI == nil && errJ == nil:
			if !vi.EQ(vj) {
				return vi.LT(vj)
			}
		case errI == nil:
			return true
		case errJ == nil:
			return false
		}
		return versions[i] < versions[j]
	})
}
