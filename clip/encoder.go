package clip

import (
	"context"
	"errors"
	"sync"
)

// Encoder is a frozen dual encoder. Implementations must be safe for
// concurrent use and return exactly one embedding per input, in order.
type Encoder interface {
	EncodeImages(ctx context.Context, batch *ImageBatch) (*Embeddings, error)
	EncodeText(ctx context.Context, batch *TokenBatch) (*Embeddings, error)
	Dim() int
}

var ErrEncoderClosed = errors.New("clip: encoder is closed")

// inflight tracks native inference calls so that the resources they use
// are released only after every call has returned.
type inflight struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// run executes fn but stops waiting once ctx is done. An abandoned fn keeps
// running in the background, its result is discarded, and close waits for it.
func (f *inflight) run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrEncoderClosed
	}
	f.wg.Add(1)
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer f.wg.Done()
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// close rejects new calls and blocks until running ones have finished.
func (f *inflight) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}
