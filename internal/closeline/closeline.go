// Package closeline shuts components down one after another in the order they
// were added.
package closeline

import (
	"errors"
	"sync"
)

// CloseLine is a line of closers that are closed sequentially.
type CloseLine struct {
	mu      sync.Mutex
	closers []func() error
}

// Add adds a closer that cannot fail.
func (c *CloseLine) Add(closer func()) {
	c.AddE(func() error {
		closer()
		return nil
	})
}

// AddE adds a closer whose error is reported by Close.
func (c *CloseLine) AddE(closer func() error) {
	if closer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// Close runs every closer in order, even after one fails, and empties the
// line. A second Close is a no-op.
func (c *CloseLine) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, f := range closers {
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
