//go:build windows

// Library discovery for Windows. OpenCL.dll is installed system-wide
// by GPU drivers, so a plain LoadLibrary search is enough.
package opencl

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// loadLibrary loads the OpenCL library on Windows.
func loadLibrary() (uintptr, error) {
	handle, err := windows.LoadLibrary("OpenCL.dll")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	return uintptr(handle), nil
}
