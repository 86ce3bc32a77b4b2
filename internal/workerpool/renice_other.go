//go:build !linux

package workerpool

// NicenessSupported reports whether Renice can change thread priority.
func NicenessSupported() bool { return false }

// Renice fails for any nonzero adjustment.
func Renice(adj int) error {
	if adj == 0 {
		return nil
	}
	return ErrNicenessUnsupported
}
