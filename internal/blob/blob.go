// Package blob provides durable key to bytes object storage with list-by-prefix.
package blob

import (
	"context"
	"errors"
	"iter"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is object storage addressed by slash-separated names.
type Store interface {
	// Put writes data under name, replacing any previous object, and returns a
	// reference to the stored object.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	// Get returns the object bytes or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// List yields object names starting with prefix. Order is backend defined.
	List(ctx context.Context, prefix string) iter.Seq2[string, error]
}
