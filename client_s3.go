package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/xorcare/pointer"
)

// S3API is the subset of *awss3.Client the mirror talks to.
type S3API interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

type PkgspiegelS3Client struct {
	api S3API
}

// one page of a delimited listing
type s3PrefixPage struct {
	Prefixes              []string
	NextContinuationToken *string
	IsTruncated           bool
}

func NewS3Client(ctx context.Context, endpoint string) (*PkgspiegelS3Client, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	var optFns []func(*awss3.Options)
	if endpoint != "" {
		const defaultRegion = "us-east-1"
		if awscfg.Region == "" {
			awscfg.Region = defaultRegion
		}
		optFns = append(optFns, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &PkgspiegelS3Client{api: awss3.NewFromConfig(awscfg, optFns...)}, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *awss3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *awss3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (t PkgspiegelS3Client) GetObjectContents(ctx context.Context, bucket string, key string) ([]byte, error) {
	output, err := t.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrCacheEntryNotFound, bucket, key)
		}
		return nil, fmt.Errorf("error loading object contents: %w", err)
	}
	defer output.Body.Close()
	contents, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("error loading object contents: %w", err)
	}
	return contents, nil
}

// ListCommonPrefixesPage fetches a single page of the prefixes directly below
// prefix, each returned with the delimiter still attached.
func (t PkgspiegelS3Client) ListCommonPrefixesPage(ctx context.Context, bucket string, prefix string, continuationToken *string, pageSize int32) (s3PrefixPage, error) {
	input := awss3.ListObjectsV2Input{
		Bucket:            &bucket,
		ContinuationToken: continuationToken,
		Delimiter:         pointer.String(CACHE_KEY_DELIMITER),
	}
	if prefix != "" {
		input.Prefix = pointer.String(prefix)
	}
	if pageSize > 0 {
		input.MaxKeys = pointer.Int32(pageSize)
	}
	output, err := t.api.ListObjectsV2(ctx, &input)
	if err != nil {
		return s3PrefixPage{}, fmt.Errorf("error listing objects from S3: %w", err)
	}

	page := s3PrefixPage{
		IsTruncated:           aws.ToBool(output.IsTruncated),
		NextContinuationToken: output.NextContinuationToken,
	}
	for _, commonPrefix := range output.CommonPrefixes {
		page.Prefixes = append(page.Prefixes, aws.ToString(commonPrefix.Prefix))
	}
	// a truncated page without a token would loop forever
	if page.IsTruncated && page.NextContinuationToken == nil {
		return s3PrefixPage{}, fmt.Errorf("error listing objects from S3: truncated listing without continuation token")
	}
	return page, nil
}

func (t PkgspiegelS3Client) PutObjectWithContentType(ctx context.Context, bucket string, key string, body []byte, contentType string) (*string, error) {
	poi := awss3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		poi.ContentType = pointer.String(contentType)
	}

	putObjectOutput, err := t.api.PutObject(ctx, &poi)
	if err != nil {
		return nil, err
	}
	return putObjectOutput.ETag, nil
}
