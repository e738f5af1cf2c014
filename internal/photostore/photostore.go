// Package photostore holds item photo files. Photos are referenced from
// items by file name and never leave the device.
package photostore

import (
	"context"
	"io"
)

type PhotoStore interface {
	// Save writes r under a new file name derived from itemID and returns it.
	Save(ctx context.Context, itemID, mimeType string, r io.Reader) (fileName string, err error)
	Get(ctx context.Context, fileName string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, fileName string) error
}
