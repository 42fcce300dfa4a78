// Package adaptor provides resources that decorate an upstream resource with
// cross-cutting behaviour: logging, tracking, statistics, limiting, failure
// callbacks and serialisation.
//
// Every adaptor forwards the exact contract of its upstream. An adaptor never
// owns its upstream's memory, so two adaptors of the same kind are equal when
// their upstreams are equal. Adaptor locks cover local bookkeeping only;
// upstream calls are made without them.
package adaptor

import (
	"fmt"

	"github.com/joshuapare/gpumr/mr"
)

// mustUpstream panics when an adaptor is constructed without an upstream.
func mustUpstream(kind string, upstream mr.Resource) {
	if upstream == nil {
		panic(fmt.Errorf("%w: %s upstream is nil", mr.ErrInvalidArgument, kind))
	}
}

// upstreamsEqual is the equality rule shared by all adaptors.
func upstreamsEqual(a, b mr.Resource) bool {
	return mr.Equal(a, b)
}
