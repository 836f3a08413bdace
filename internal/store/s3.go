package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/slmtnm/s4/internal/metrics"
)

// maxS3DeleteBatch is the DeleteObjects request limit.
const maxS3DeleteBatch = 1000

// S3Options holds what is needed to build an already-authenticated client.
type S3Options struct {
	// Static credentials; when empty the default chain (or Profile) is used.
	AccessKey string
	SecretKey string
	Profile   string
	Region    string
	// Endpoint overrides the service endpoint, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
	// PageSize is the MaxKeys of each listing call; 0 uses the store default.
	PageSize int
}

// S3 wraps the AWS S3 client.
type S3 struct {
	client   *s3.Client
	pageSize int32
}

// NewS3 creates a new S3 client from options.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
		// retries happen in the cache and the deletion coordinator
		o.Retryer = aws.NopRetryer{}
		o.RetryMaxAttempts = 0
	})

	return NewS3FromClient(client, opts.PageSize), nil
}

// NewS3FromClient wraps an existing SDK client.
func NewS3FromClient(client *s3.Client, pageSize int) *S3 {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	return &S3{client: client, pageSize: int32(pageSize)}
}

// List implements Client.
func (c *S3) List(ctx context.Context, path, token string) (ListingPage, error) {
	if path == "" {
		return c.listBuckets(ctx, token)
	}
	return c.listPrefix(ctx, path, token)
}

func (c *S3) listBuckets(ctx context.Context, token string) (ListingPage, error) {
	start := time.Now()
	input := &s3.ListBucketsInput{
		MaxBuckets: aws.Int32(c.pageSize),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	result, err := c.client.ListBuckets(ctx, input)
	metrics.RecordStoreOperation("list_buckets", time.Since(start), err == nil)
	if err != nil {
		return ListingPage{}, NewError(KindOf(err), "list buckets", "", err)
	}

	page := ListingPage{Items: make([]Item, 0, len(result.Buckets))}
	for _, b := range result.Buckets {
		name := aws.ToString(b.Name)
		if name == "" {
			continue
		}
		page.Items = append(page.Items, Item{
			Type:     TypeBucket,
			Path:     name,
			Name:     name,
			Modified: aws.ToTime(b.CreationDate),
		})
	}
	page.NextToken = aws.ToString(result.ContinuationToken)
	page.IsLast = page.NextToken == ""
	return page, nil
}

func (c *S3) listPrefix(ctx context.Context, path, token string) (ListingPage, error) {
	bucket, prefix := SplitPath(path)
	if TypeOf(path) == TypeObject {
		return ListingPage{}, NewError(KindInvalid, "list", path, fmt.Errorf("not a directory"))
	}

	start := time.Now()
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(c.pageSize),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	result, err := c.client.ListObjectsV2(ctx, input)
	metrics.RecordStoreOperation("list_objects", time.Since(start), err == nil)
	if err != nil {
		return ListingPage{}, NewError(KindOf(err), "list", path, err)
	}

	page := ListingPage{Items: make([]Item, 0, len(result.CommonPrefixes)+len(result.Contents))}

	// Add directories (common prefixes)
	for _, cp := range result.CommonPrefixes {
		p := aws.ToString(cp.Prefix)
		name := strings.TrimSuffix(strings.TrimPrefix(p, prefix), "/")
		if name == "" {
			continue
		}
		page.Items = append(page.Items, Item{
			Type: TypeDirectory,
			Path: JoinPath(bucket, p),
			Name: name,
		})
	}

	// Add files
	for _, obj := range result.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix || strings.HasSuffix(key, "/") { // Skip directory markers
			continue
		}
		item := Item{
			Type:     TypeObject,
			Path:     JoinPath(bucket, key),
			Name:     strings.TrimPrefix(key, prefix),
			Size:     aws.ToInt64(obj.Size),
			Modified: aws.ToTime(obj.LastModified),
		}
		item.NeedsHead = obj.Size == nil || obj.LastModified == nil
		page.Items = append(page.Items, item)
	}

	page.IsLast = !aws.ToBool(result.IsTruncated)
	if !page.IsLast {
		page.NextToken = aws.ToString(result.NextContinuationToken)
		if page.NextToken == "" {
			return ListingPage{}, NewError(KindInvalid, "list", path,
				fmt.Errorf("truncated page without continuation token"))
		}
	}
	return page, nil
}

// DeleteBatch implements Client.
func (c *S3) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]DeleteOutcome, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > maxS3DeleteBatch {
		return nil, NewError(KindInvalid, "delete", bucket,
			fmt.Errorf("batch of %d keys exceeds limit %d", len(keys), maxS3DeleteBatch))
	}

	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}

	start := time.Now()
	result, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: ids,
			Quiet:   aws.Bool(true),
		},
	})
	metrics.RecordStoreOperation("delete_objects", time.Since(start), err == nil)
	if err != nil {
		return nil, NewError(KindOf(err), "delete", bucket, err)
	}

	failed := make(map[string]error, len(result.Errors))
	for _, e := range result.Errors {
		code := aws.ToString(e.Code)
		kind := apiErrorKinds[code]
		failed[aws.ToString(e.Key)] = NewError(kind, "delete", JoinPath(bucket, aws.ToString(e.Key)),
			fmt.Errorf("%s: %s", code, aws.ToString(e.Message)))
	}

	outcomes := make([]DeleteOutcome, 0, len(keys))
	for _, k := range keys {
		outcomes = append(outcomes, DeleteOutcome{Key: k, Err: failed[k]})
	}
	return outcomes, nil
}

// Head implements Client.
func (c *S3) Head(ctx context.Context, bucket, key string) (ObjectMeta, error) {
	start := time.Now()
	result, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	metrics.RecordStoreOperation("head_object", time.Since(start), err == nil)
	if err != nil {
		return ObjectMeta{}, NewError(KindOf(err), "head", JoinPath(bucket, key), err)
	}
	return ObjectMeta{
		Size:     aws.ToInt64(result.ContentLength),
		Modified: aws.ToTime(result.LastModified),
	}, nil
}

// MaxDeleteBatch implements Client.
func (c *S3) MaxDeleteBatch() int {
	return maxS3DeleteBatch
}

// HeadBucket checks if a bucket exists and is accessible
func (c *S3) HeadBucket(ctx context.Context, bucket string) error {
	start := time.Now()
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	metrics.RecordStoreOperation("head_bucket", time.Since(start), err == nil)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return NewError(KindNotFound, "head bucket", bucket, fmt.Errorf("bucket '%s' does not exist", bucket))
		}
		return NewError(KindOf(err), "head bucket", bucket, fmt.Errorf("failed to access bucket '%s': %w", bucket, err))
	}
	return nil
}

