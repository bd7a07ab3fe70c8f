//go:build linux || darwin

package wallet

import "golang.org/x/sys/unix"

// lockMemory pins the secret key's backing array so it is never written to
// swap. Failure is non-fatal: the wallet still functions, just without the
// memory-locking guarantee, and the caller can observe that via the return
// value if it wants to log it.
func lockMemory(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return unix.Mlock(b) == nil
}

func unlockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Munlock(b)
}
