package workerpool

import "errors"

// ErrNicenessUnsupported is returned for a nonzero niceness adjustment on
// platforms without per-thread priorities.
var ErrNicenessUnsupported = errors.New("niceness adjustment is only supported on Linux")

func clampNice(n int) int {
	switch {
	case n < -20:
		return -20
	case n > 19:
		return 19
	default:
		return n
	}
}
