package mr

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"

	"github.com/joshuapare/gpumr/mr/align"
)

// ParseSize parses a human-readable byte count such as "4MiB", "2kib" or
// "1073741824". Suffixes are binary (1k = 1024).
func ParseSize(s string) (uint64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size %q", ErrInvalidArgument, s)
	}
	return uint64(n), nil
}

// FormatBytes renders n using binary units, e.g. "1.5MiB".
func FormatBytes(n uint64) string {
	return units.BytesSize(float64(n))
}

// PercentOfFree returns percent of the free memory reported by r, aligned
// down to the device alignment. It is meant for sizing pools.
func PercentOfFree(r Resource, percent int) uint64 {
	if percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	free, _ := r.MemInfo(DefaultStream)
	return align.AlignDown(free/100*uint64(percent), align.DeviceAlignment)
}
