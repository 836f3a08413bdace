package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		path   string
		typ    EntryType
		parent string
		base   string
	}{
		{"bucket", TypeBucket, "", "bucket"},
		{"bucket/a/", TypeDirectory, "bucket", "a"},
		{"bucket/a/b/", TypeDirectory, "bucket/a/", "b"},
		{"bucket/a/b/f.txt", TypeObject, "bucket/a/b/", "f.txt"},
		{"bucket/f.txt", TypeObject, "bucket", "f.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.typ, TypeOf(tt.path), "TypeOf(%q)", tt.path)
		assert.Equal(t, tt.parent, ParentPath(tt.path), "ParentPath(%q)", tt.path)
		assert.Equal(t, tt.base, BaseName(tt.path), "BaseName(%q)", tt.path)
		assert.Equal(t, tt.path, ChildPath(tt.parent, tt.base, tt.typ), "ChildPath for %q", tt.path)
	}
	assert.Equal(t, "", ParentPath(""))
}

func TestWithin(t *testing.T) {
	assert.True(t, Within("bucket/a/b", ""))
	assert.True(t, Within("bucket/a/b", "bucket"))
	assert.True(t, Within("bucket/a/b", "bucket/a/"))
	assert.True(t, Within("bucket/a/", "bucket/a/"))
	assert.False(t, Within("bucketx/a", "bucket"))
	assert.False(t, Within("bucket/ab/c", "bucket/a/"))
	assert.False(t, Within("bucket/a.txt2", "bucket/a.txt"))
}

func TestMemoryListGroupsPrefixes(t *testing.T) {
	m := NewMemory(0)
	now := time.Now()
	m.Put("b/top.txt", 10, now)
	m.Put("b/dir/one", 1, now)
	m.Put("b/dir/two", 2, now)
	m.Put("b/dir/sub/three", 3, now)
	m.Put("b/dir/", 0, now) // directory marker

	page, err := m.List(context.Background(), "b", "")
	require.NoError(t, err)
	require.True(t, page.IsLast)
	require.Len(t, page.Items, 2)
	assert.Equal(t, Item{Type: TypeDirectory, Path: "b/dir/", Name: "dir"}, page.Items[0])
	assert.Equal(t, "b/top.txt", page.Items[1].Path)

	page, err = m.List(context.Background(), "b/dir/", "")
	require.NoError(t, err)
	var paths []string
	for _, it := range page.Items {
		paths = append(paths, it.Path)
	}
	assert.Equal(t, []string{"b/dir/one", "b/dir/sub/", "b/dir/two"}, paths)
}

func TestMemoryListPaginates(t *testing.T) {
	m := NewMemory(2)
	for i := 0; i < 5; i++ {
		m.Put(fmt.Sprintf("b/k%d", i), int64(i), time.Now())
	}

	var all []Item
	token := ""
	pages := 0
	for {
		page, err := m.List(context.Background(), "b", token)
		require.NoError(t, err)
		all = append(all, page.Items...)
		pages++
		if page.IsLast {
			break
		}
		token = page.NextToken
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, all, 5)

	_, err := m.List(context.Background(), "b", "garbage")
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestMemoryMissingBucketIsNotFound(t *testing.T) {
	m := NewMemory(0)
	_, err := m.List(context.Background(), "nope", "")
	assert.True(t, IsNotFound(err))
}

func TestMemoryDeleteBatchReportsPerKey(t *testing.T) {
	m := NewMemory(0)
	m.Put("b/x", 1, time.Now())
	m.Put("b/y", 1, time.Now())
	m.FailDelete("b/y", NewError(KindAccessDenied, "delete", "b/y", errors.New("denied")))

	out, err := m.DeleteBatch(context.Background(), "b", []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, KindAccessDenied, KindOf(out[1].Err))
	assert.False(t, m.Exists("b/x"))
	assert.True(t, m.Exists("b/y"))
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&smithy.GenericAPIError{Code: "SlowDown"}, KindTransient},
		{&smithy.GenericAPIError{Code: "NoSuchBucket"}, KindNotFound},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, KindAccessDenied},
		{&smithy.GenericAPIError{Code: "InvalidArgument"}, KindInvalid},
		{fmt.Errorf("wrapped: %w", statusErr{503}), KindTransient},
		{statusErr{404}, KindNotFound},
		{statusErr{403}, KindAccessDenied},
		{context.DeadlineExceeded, KindTransient},
		{context.Canceled, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{NewError(KindInvalid, "list", "b", errors.New("x")), KindInvalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "KindOf(%v)", tt.err)
	}
}

func TestNewS3DisablesSDKRetries(t *testing.T) {
	t.Setenv("AWS_MAX_ATTEMPTS", "5")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	c, err := NewS3(context.Background(), S3Options{
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		PathStyle: true,
	})
	require.NoError(t, err)
	opts := c.client.Options()
	assert.IsType(t, aws.NopRetryer{}, opts.Retryer)
	assert.Zero(t, opts.RetryMaxAttempts)
	assert.True(t, opts.UsePathStyle)
}
