package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const testDownloadPrefix = "http://localhost"

func testSugar() *zap.SugaredLogger {
	logger, _ := zap.NewDevelopment()
	return logger.Sugar()
}

func decodeJSON(t *testing.T, text string) map[string]any {
	t.Helper()
	var decoded map[string]any
	err := json.Unmarshal([]byte(text), &decoded)
	if err != nil {
		t.Fatalf("failed to decode %q: %v", text, err)
	}
	return decoded
}

// tarballOf digs versions[version].dist.tarball out of a decoded entry.
func tarballOf(t *testing.T, entry map[string]any, version string) any {
	t.Helper()
	versions, ok := entry["versions"].(map[string]any)
	if !ok {
		t.Fatalf("entry has no versions object: %v", entry)
	}
	metadata, ok := versions[version].(map[string]any)
	if !ok {
		t.Fatalf("entry has no version %s: %v", version, versions)
	}
	dist, ok := metadata["dist"].(map[string]any)
	if !ok {
		t.Fatalf("version %s has no dist object: %v", version, metadata)
	}
	return dist["tarball"]
}

// memoryBlobCache keeps gzip-compressed blobs in a map, the way the real
// backends store them.
type memoryBlobCache struct {
	mu           sync.Mutex
	blobs        map[string][]byte
	puts         atomic.Int32
	getFunc      func(key string) (string, error)
	putFunc      func(key string, text string) error
	enumerateErr error
}

func newMemoryBlobCache() *memoryBlobCache {
	return &memoryBlobCache{blobs: make(map[string][]byte)}
}

func (m *memoryBlobCache) Put(ctx context.Context, key string, text string) error {
	if m.putFunc != nil {
		err := m.putFunc(key, text)
		if err != nil {
			return err
		}
	}
	body, err := compressText(text)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = body
	m.puts.Add(1)
	return nil
}

func (m *memoryBlobCache) Get(ctx context.Context, key string) (string, error) {
	if m.getFunc != nil {
		return m.getFunc(key)
	}
	m.mu.Lock()
	body, ok := m.blobs[key]
	m.mu.Unlock()
	if !ok {
		return "", ErrCacheEntryNotFound
	}
	return decompressText(body)
}

func (m *memoryBlobCache) Enumerate(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.Lock()
		keys := make([]string, 0, len(m.blobs))
		for k := range m.blobs {
			keys = append(keys, k)
		}
		m.mu.Unlock()
		sort.Strings(keys)
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
		if m.enumerateErr != nil {
			yield("", m.enumerateErr)
		}
	}
}

// seed stores text without counting it as a Put.
func (m *memoryBlobCache) seed(t *testing.T, key string, text string) {
	t.Helper()
	body, err := compressText(text)
	if err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = body
}

func (m *memoryBlobCache) stored(t *testing.T, key string) string {
	t.Helper()
	m.mu.Lock()
	body, ok := m.blobs[key]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("nothing stored under %s", key)
	}
	text, err := decompressText(body)
	if err != nil {
		t.Fatal(err)
	}
	return text
}

type mockUpstream struct {
	fetchFunc func(packageName string) (RegistryEntry, error)
	calls     atomic.Int32
}

func (m *mockUpstream) Fetch(ctx context.Context, packageName string) (RegistryEntry, error) {
	m.calls.Add(1)
	return m.fetchFunc(packageName)
}

// upstreamReturning parses doc fresh on every call, since callers mutate entries.
func upstreamReturning(doc string) *mockUpstream {
	return &mockUpstream{
		fetchFunc: func(string) (RegistryEntry, error) {
			return ParseRegistryEntry([]byte(doc))
		},
	}
}

// fakeS3API emulates the delimited, paginated listing and object calls of S3.
type fakeS3API struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	listCalls    int
	getErr       error
	listErr      error
}

func newFakeS3API() *fakeS3API {
	return &fakeS3API{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (f *fakeS3API) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &awss3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3API) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	f.objects[key] = body
	f.contentTypes[key] = aws.ToString(params.ContentType)
	return &awss3.PutObjectOutput{ETag: aws.String(`"etag"`)}, nil
}

func (f *fakeS3API) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	prefix := aws.ToString(params.Prefix)
	delimiter := aws.ToString(params.Delimiter)
	seen := make(map[string]bool)
	var commonPrefixes []string
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		idx := strings.Index(rest, delimiter)
		if delimiter == "" || idx < 0 {
			continue
		}
		cp := prefix + rest[:idx+len(delimiter)]
		if !seen[cp] {
			seen[cp] = true
			commonPrefixes = append(commonPrefixes, cp)
		}
	}
	sort.Strings(commonPrefixes)

	start := 0
	if params.ContinuationToken != nil {
		start, _ = strconv.Atoi(*params.ContinuationToken)
	}
	maxKeys := 1000
	if params.MaxKeys != nil {
		maxKeys = int(*params.MaxKeys)
	}
	end := min(start+maxKeys, len(commonPrefixes))

	output := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(commonPrefixes))}
	for _, cp := range commonPrefixes[start:end] {
		output.CommonPrefixes = append(output.CommonPrefixes, awss3types.CommonPrefix{Prefix: aws.String(cp)})
	}
	if end < len(commonPrefixes) {
		output.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return output, nil
}
