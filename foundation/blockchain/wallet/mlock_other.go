//go:build !linux && !darwin

package wallet

// lockMemory is a no-op on platforms without mlock support.
func lockMemory(b []byte) bool { return false }

func unlockMemory(b []byte) {}
