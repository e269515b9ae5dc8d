// Package limits provides centralized frame size constants and the default
// memory budget used by the frame cache.
//
// # Frame Size Limits
//
//   - MaxFrameDimension (16384): largest accepted width or height. Raw files
//     carry no header, so a mistyped file-name hint must not be able to ask for
//     a frame of absurd geometry.
//
//   - MaxFrameBytes (4 GiB): largest accepted byte size of one raw frame.
//
// # Validation Functions
//
//	if err := limits.ValidateDimensions(width, height); err != nil {
//	    // ErrInvalidDimensions or ErrFrameTooLarge
//	}
//
//	if err := limits.ValidateFrameBytes(size); err != nil {
//	    // ErrFrameTooLarge
//	}
//
// # Cache Budget
//
// DefaultCacheBudget derives a byte budget for decoded frames from the host.
// On Linux it reads total RAM through golang.org/x/sys/unix and uses a quarter
// of it; elsewhere it returns FallbackCacheBudget. The result is never below
// MinCacheBudget.
package limits
