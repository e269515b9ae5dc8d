//go:build linux

package limits

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// totalMemory returns the total RAM of the host using the sysinfo system call.
func totalMemory() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "totalMemory",
			"error":    err.Error(),
		}).Warn("sysinfo failed, using fallback cache budget")
		return 0, err
	}
	// Totalram is expressed in units of Unit bytes.
	return uint64(info.Totalram) * uint64(info.Unit), nil
}
