// Package blob provides the storage side of an image transfer. The upload
// coordinator drives it through the MultipartStore contract and never sees
// transport details such as signing or the S3 wire protocol.
package blob

import (
	"context"
	"io"
)

// CompletedPart identifies one successfully stored part of a transfer.
type CompletedPart struct {
	Number int32
	ETag   string
}

// MultipartStore is the minimal contract the upload coordinator needs:
// open a transfer, store parts, then seal or abandon it.
type MultipartStore interface {
	Create(ctx context.Context, key string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, number int32, body io.Reader, size int64) (CompletedPart, error)
	Complete(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	Abort(ctx context.Context, key, uploadID string) error
}
