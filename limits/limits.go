// Package limits provides centralized frame size limits for raw video sources.
// This ensures consistent validation across the format, decode and cache layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFrameDimension is the largest accepted frame width or height in pixels.
	MaxFrameDimension = 16384

	// MaxFrameBytes is the largest accepted byte size of a single raw frame.
	MaxFrameBytes = uint64(1) << 32

	// MinCacheBudget is the smallest byte budget DefaultCacheBudget returns.
	MinCacheBudget = uint64(64) << 20

	// FallbackCacheBudget is used when total RAM cannot be determined.
	FallbackCacheBudget = uint64(1) << 30

	// ramBudgetDivisor selects the share of total RAM given to decoded frames.
	ramBudgetDivisor = 4
)

var (
	// ErrInvalidDimensions indicates a non-positive or oversize width or height.
	ErrInvalidDimensions = errors.New("invalid frame dimensions")

	// ErrFrameTooLarge indicates a frame whose byte size exceeds MaxFrameBytes.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateDimensions checks that width and height are positive and within
// MaxFrameDimension. Returns an error with context including the actual values.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width > MaxFrameDimension || height > MaxFrameDimension {
		return fmt.Errorf("%w: %dx%d exceeds limit %d", ErrInvalidDimensions, width, height, MaxFrameDimension)
	}
	return nil
}

// ValidateFrameBytes validates a raw frame byte size against MaxFrameBytes.
func ValidateFrameBytes(size uint64) error {
	if size == 0 {
		return fmt.Errorf("%w: empty frame", ErrInvalidDimensions)
	}
	if size > MaxFrameBytes {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, size, MaxFrameBytes)
	}
	return nil
}

// DefaultCacheBudget returns the byte budget for decoded frames on this host.
func DefaultCacheBudget() uint64 {
	total, err := totalMemory()
	if err != nil || total == 0 {
		return FallbackCacheBudget
	}
	return clampBudget(total / ramBudgetDivisor)
}

func clampBudget(budget uint64) uint64 {
	if budget < MinCacheBudget {
		return MinCacheBudget
	}
	return budget
}
