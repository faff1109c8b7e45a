// Package blob stores document bytes in an S3 compatible object store and
// hands out time-limited signed URLs for reading them.
package blob

import (
	"context"
	"errors"
	"net/url"
	"time"
)

var ErrExists = errors.New("object already exists")

// Store is the object store surface used by the rest of the service.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, paths []string) error
}

// ParamSigner signs extra query parameters into the URL. Parameters appended
// after signing would invalidate the signature.
type ParamSigner interface {
	SignedURLWithParams(ctx context.Context, path string, ttl time.Duration, params url.Values) (string, error)
}
