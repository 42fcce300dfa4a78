package arena

import (
	"fmt"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/align"
)

// DefaultSuperblockSize is the smallest unit an arena takes from upstream.
const DefaultSuperblockSize uint64 = 1 << 20

// Option configures a Resource.
type Option func(*config) error

type config struct {
	superblockSize uint64
	maximum        uint64 // 0 means unbounded
	owned          bool
	dumpOnFailure  bool
}

// WithSuperblockSize sets the superblock size. It must be a non-zero
// multiple of the device alignment.
func WithSuperblockSize(size uint64) Option {
	return func(c *config) error {
		if size == 0 || !align.IsAligned(size, align.DeviceAlignment) {
			return fmt.Errorf("%w: superblock size %d must be a non-zero multiple of %d",
				mr.ErrInvalidArgument, size, align.DeviceAlignment)
		}
		c.superblockSize = size
		return nil
	}
}

// WithMaximumSize bounds the bytes the arena may hold from upstream.
func WithMaximumSize(size uint64) Option {
	return func(c *config) error {
		if size == 0 {
			return fmt.Errorf("%w: maximum arena size must be non-zero", mr.ErrInvalidArgument)
		}
		c.maximum = size
		return nil
	}
}

// WithOwnedUpstream makes Close also close the upstream if it is an
// io.Closer.
func WithOwnedUpstream() Option {
	return func(c *config) error {
		c.owned = true
		return nil
	}
}

// WithDumpLogOnFailure logs every superblock at error level when an
// allocation fails.
func WithDumpLogOnFailure() Option {
	return func(c *config) error {
		c.dumpOnFailure = true
		return nil
	}
}
