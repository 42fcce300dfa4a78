package pool

import (
	"fmt"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/align"
)

// Option configures a Pool.
type Option func(*config) error

type config struct {
	initial uint64
	maximum uint64 // 0 means unbounded
	owned   bool
}

// WithInitialSize grows the pool by size bytes at construction.
func WithInitialSize(size uint64) Option {
	return func(c *config) error {
		if !align.IsAligned(size, align.DeviceAlignment) {
			return fmt.Errorf("%w: initial pool size %d must be a multiple of %d", mr.ErrInvalidArgument, size, align.DeviceAlignment)
		}
		c.initial = size
		return nil
	}
}

// WithMaximumSize bounds the total bytes the pool may take from upstream.
func WithMaximumSize(size uint64) Option {
	return func(c *config) error {
		if size == 0 || !align.IsAligned(size, align.DeviceAlignment) {
			return fmt.Errorf("%w: maximum pool size %d must be a non-zero multiple of %d", mr.ErrInvalidArgument, size, align.DeviceAlignment)
		}
		c.maximum = size
		return nil
	}
}

// WithInitialSizeString is WithInitialSize taking a human-readable size such
// as "4MiB". The value is rounded up to the device alignment.
func WithInitialSizeString(s string) Option {
	return func(c *config) error {
		n, err := mr.ParseSize(s)
		if err != nil {
			return err
		}
		return WithInitialSize(mr.AlignedSize(n))(c)
	}
}

// WithMaximumSizeString is WithMaximumSize taking a human-readable size.
func WithMaximumSizeString(s string) Option {
	return func(c *config) error {
		n, err := mr.ParseSize(s)
		if err != nil {
			return err
		}
		return WithMaximumSize(mr.AlignedSize(n))(c)
	}
}

// WithOwnedUpstream makes the pool close its upstream, if it implements
// io.Closer, when the pool is closed.
func WithOwnedUpstream() Option {
	return func(c *config) error {
		c.owned = true
		return nil
	}
}
