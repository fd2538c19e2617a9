package main

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
)

type S3BlobCache struct {
	bucket   string
	prefix   string
	pageSize int32
	s3client *PkgspiegelS3Client
	sugar    *zap.SugaredLogger
}

func NewS3BlobCache(s3client *PkgspiegelS3Client, config s3Config, sugar *zap.SugaredLogger) *S3BlobCache {
	return &S3BlobCache{
		bucket:   config.Bucket,
		prefix:   normalizePrefix(config.Prefix),
		pageSize: config.PageSize,
		s3client: s3client,
		sugar:    sugar,
	}
}

func (s *S3BlobCache) Put(ctx context.Context, key string, text string) error {
	body, err := compressText(text)
	if err != nil {
		return err
	}
	objectKey := cacheObjectPath(s.prefix, key)
	s.sugar.Debugf("caching %s registry entry in s3://%s/%s", key, s.bucket, objectKey)
	_, err = s.s3client.PutObjectWithContentType(ctx, s.bucket, objectKey, body, CACHE_CONTENT_TYPE)
	if err != nil {
		return fmt.Errorf("error writing cache entry %s to S3: %w", objectKey, err)
	}
	return nil
}

func (s *S3BlobCache) Get(ctx context.Context, key string) (string, error) {
	objectKey := cacheObjectPath(s.prefix, key)
	s.sugar.Debugf("checking s3://%s/%s for existing %s registry entry", s.bucket, objectKey, key)
	contents, err := s.s3client.GetObjectContents(ctx, s.bucket, objectKey)
	if err != nil {
		return "", err
	}
	return decompressText(contents)
}

// Enumerate yields every package name with an entry below the prefix. Scope
// directories (@scope/) are listed one level further so scoped names come out whole.
func (s *S3BlobCache) Enumerate(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for name, err := range s.listNames(ctx, s.prefix) {
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
			for scoped, err := range s.listNames(ctx, s.prefix+name+CACHE_KEY_DELIMITER) {
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

// listNames pages through the common prefixes directly below listPrefix and
// yields each one relative to it, without the trailing delimiter.
func (s *S3BlobCache) listNames(ctx context.Context, listPrefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var continuationToken *string
		for {
			page, err := s.s3client.ListCommonPrefixesPage(ctx, s.bucket, listPrefix, continuationToken, s.pageSize)
			if err != nil {
				yield("", err)
				return
			}
			for _, commonPrefix := range page.Prefixes {
				name := strings.TrimSuffix(strings.TrimPrefix(commonPrefix, listPrefix), CACHE_KEY_DELIMITER)
				if name == "" {
					continue
				}
				if !yield(name, nil) {
					return
				}
			}
			if !page.IsTruncated {
				return
			}
			continuationToken = page.NextContinuationToken
		}
	}
}
