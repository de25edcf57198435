// Package upload drives a single blob transfer to completion, splitting it
// into parts uploaded with bounded parallelism. Parallelism exists purely for
// throughput: any part failure aborts the whole transfer, and failed parts
// are discarded, never resumed.
package upload

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/platescan/platescan/internal/blob"
)

const (
	defaultPartSize    = 5 << 20
	defaultConcurrency = 4
)

type Coordinator struct {
	store       blob.MultipartStore
	partSize    int64
	concurrency int
	log         zerolog.Logger
}

// NewCoordinator builds a coordinator over the given store. Non-positive
// partSize or concurrency fall back to the defaults (5 MiB, 4 workers).
func NewCoordinator(store blob.MultipartStore, partSize int64, concurrency int) *Coordinator {
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Coordinator{
		store:       store,
		partSize:    partSize,
		concurrency: concurrency,
		log:         log.With().Str("component", "upload").Logger(),
	}
}

// Upload stores the file at path under key. onProgress, if non-nil, observes
// each completed part. The first part failure cancels the remaining workers,
// aborts the multipart upload and is returned; there is no retry.
func (c *Coordinator) Upload(ctx context.Context, key, path string, onProgress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	size := stat.Size()

	uploadID, err := c.store.Create(ctx, key)
	if err != nil {
		return err
	}

	numParts := int32((size + c.partSize - 1) / c.partSize)
	if numParts == 0 {
		numParts = 1
	}
	c.log.Info().Str("key", key).Int64("size", size).Int32("parts", numParts).Msg("starting upload")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int32, numParts)
	for n := int32(1); n <= numParts; n++ {
		jobs <- n
	}
	close(jobs)

	tr := newTracker(size, onProgress)
	completed := make([]blob.CompletedPart, numParts)

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for w := 0; w < c.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				offset := int64(n-1) * c.partSize
				length := c.partSize
				if offset+length > size {
					length = size - offset
				}

				body := io.NewSectionReader(f, offset, length)
				part, err := c.store.UploadPart(ctx, key, uploadID, n, body, length)
				if err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				completed[n-1] = part
				tr.add(length)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		// Abort with a fresh context: ctx is already cancelled.
		if err := c.store.Abort(context.Background(), key, uploadID); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("abort failed")
		}
		return errors.Wrapf(firstErr, "uploading %s", key)
	}

	if err := c.store.Complete(ctx, key, uploadID, completed); err != nil {
		return err
	}
	c.log.Info().Str("key", key).Msg("upload complete")
	return nil
}
