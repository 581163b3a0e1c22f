//go:build linux || darwin

// Library discovery for Unix-like systems.
package opencl

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ebitengine/purego"
)

// getLibraryPaths returns candidate library names and search paths.
func getLibraryPaths() ([]string, []string) {
	var libNames []string
	var searchPaths []string

	switch runtime.GOOS {
	case "linux":
		libNames = []string{"libOpenCL.so.1", "libOpenCL.so"}
		searchPaths = []string{
			"/usr/lib/x86_64-linux-gnu",
			"/usr/lib/aarch64-linux-gnu",
			"/usr/lib64",
			"/usr/lib",
			"/usr/local/lib",
			"/opt/rocm/lib",
		}
		if cudaPath := os.Getenv("CUDA_PATH"); cudaPath != "" {
			searchPaths = append([]string{filepath.Join(cudaPath, "lib64")}, searchPaths...)
		}
	case "darwin":
		// macOS ships OpenCL as a system framework.
		libNames = []string{
			"/System/Library/Frameworks/OpenCL.framework/OpenCL",
			"libOpenCL.dylib",
		}
		searchPaths = []string{"/usr/local/lib", "/opt/homebrew/lib"}
	}

	return libNames, searchPaths
}

// loadLibrary loads the OpenCL library on Unix systems.
func loadLibrary() (uintptr, error) {
	libNames, searchPaths := getLibraryPaths()

	for _, libName := range libNames {
		// Bare name first, letting the dynamic linker search its own paths.
		if lib, err := purego.Dlopen(libName, purego.RTLD_NOW|purego.RTLD_GLOBAL); err == nil {
			return lib, nil
		}

		for _, path := range searchPaths {
			fullPath := filepath.Join(path, libName)
			if _, err := os.Stat(fullPath); err == nil {
				if lib, err := purego.Dlopen(fullPath, purego.RTLD_NOW|purego.RTLD_GLOBAL); err == nil {
					return lib, nil
				}
			}
		}
	}

	return 0, fmt.Errorf("%w (tried: %v in paths: %v)", ErrNotAvailable, libNames, searchPaths)
}
