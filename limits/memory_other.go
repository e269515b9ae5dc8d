//go:build !linux

package limits

import "errors"

// totalMemory is not implemented outside Linux; DefaultCacheBudget falls back.
func totalMemory() (uint64, error) {
	return 0, errors.New("total memory not available on this platform")
}
