package semindex

import "context"

// Close stops background work, persists the lexical index and releases the
// index root. Queued jobs stay journaled and resume on the next Open.
// Calling Close more than once is a no-op.
func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	idx.mu.Unlock()

	err := idx.release(context.Background())
	if err != nil {
		idx.logger.Error("close failed", "error", err)
	}
	return err
}
