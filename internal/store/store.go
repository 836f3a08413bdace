// Package store defines the object store contract consumed by the navigator
// and its S3 and in-memory implementations.
//
// Paths address the hierarchical view over the flat key space:
//
//	""                  the bucket list
//	"bucket"            a bucket
//	"bucket/a/b/"       a prefix (directory), always with a trailing slash
//	"bucket/a/b/f.txt"  an object
package store

import (
	"context"
	"strings"
	"time"
)

// EntryType is the closed set of node kinds the view knows about.
type EntryType int

const (
	TypeBucket EntryType = iota
	TypeDirectory
	TypeObject
)

func (t EntryType) String() string {
	switch t {
	case TypeBucket:
		return "bucket"
	case TypeDirectory:
		return "directory"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Item is a single entry of a listing page.
type Item struct {
	Type     EntryType
	Path     string
	Name     string
	Size     int64
	Modified time.Time
	// NeedsHead is set when the store returned the entry without size or
	// modification time.
	NeedsHead bool
}

// ListingPage is one page of a paginated listing.
type ListingPage struct {
	Items     []Item
	NextToken string
	IsLast    bool
}

// DeleteOutcome reports the result of deleting one key of a batch.
type DeleteOutcome struct {
	Key string
	Err error
}

// ObjectMeta is what Head returns.
type ObjectMeta struct {
	Size     int64
	Modified time.Time
}

// Client is the object store as seen by the tree cache.
type Client interface {
	// List returns one page of the delimiter listing of path. An empty token
	// requests the first page.
	List(ctx context.Context, path, token string) (ListingPage, error)

	// DeleteBatch deletes up to MaxDeleteBatch keys from bucket. A returned
	// error means the batch as a whole failed.
	DeleteBatch(ctx context.Context, bucket string, keys []string) ([]DeleteOutcome, error)

	// Head fetches metadata for a single object.
	Head(ctx context.Context, bucket, key string) (ObjectMeta, error)

	// MaxDeleteBatch is the largest batch DeleteBatch accepts.
	MaxDeleteBatch() int
}

// TypeOf infers the entry type from a path.
func TypeOf(path string) EntryType {
	switch {
	case !strings.Contains(path, "/"):
		return TypeBucket
	case strings.HasSuffix(path, "/"):
		return TypeDirectory
	default:
		return TypeObject
	}
}

// SplitPath splits a path into bucket and key (or prefix).
func SplitPath(path string) (bucket, key string) {
	bucket, key, _ = strings.Cut(path, "/")
	return bucket, key
}

// JoinPath builds a path from a bucket and a key or prefix.
func JoinPath(bucket, key string) string {
	if key == "" {
		return bucket
	}
	return bucket + "/" + key
}

// ParentPath returns the path of the node that lists path as a child.
func ParentPath(path string) string {
	if path == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(path, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return ""
	}
	parent := trimmed[:i+1]
	if !strings.Contains(parent[:len(parent)-1], "/") {
		// bucket root
		return parent[:len(parent)-1]
	}
	return parent
}

// BaseName returns the display name of a path.
func BaseName(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// ChildPath builds the path of a child entry named name under parent.
func ChildPath(parent, name string, typ EntryType) string {
	var p string
	switch {
	case parent == "":
		p = name
	case strings.HasSuffix(parent, "/"):
		p = parent + name
	default:
		p = parent + "/" + name
	}
	if typ == TypeDirectory {
		p += "/"
	}
	return p
}

// Within reports whether path is ancestor itself or lies below it.
func Within(path, ancestor string) bool {
	if ancestor == "" || path == ancestor {
		return true
	}
	if TypeOf(ancestor) == TypeObject {
		return false
	}
	if TypeOf(ancestor) == TypeBucket {
		return strings.HasPrefix(path, ancestor+"/")
	}
	return strings.HasPrefix(path, ancestor)
}
