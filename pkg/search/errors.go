// Package search implements OpenCL-offloaded k-nearest-neighbor search
// over static point clouds: a registry of device contexts and compiled
// programs, and three engine variants (brute force, leaf k-d tree,
// point k-d tree) sharing one dispatch pipeline.
package search

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Construction-time failures (ErrNoPlatform,
// ErrNoDevice, BuildError, SourceError) leave no usable engine; ErrUsage
// aborts only the offending call and the engine stays reusable.
var (
	// ErrNoPlatform means no OpenCL platform is installed.
	ErrNoPlatform = errors.New("search: no OpenCL platform found")

	// ErrNoDevice means the selected platform exposes no usable device.
	ErrNoDevice = errors.New("search: no devices on OpenCL platform")

	// ErrNoContext is a sequencing error: the program cache was
	// requested for a device type no context was created for.
	ErrNoContext = errors.New("search: program cache requested before context creation")

	// ErrUsage covers caller mistakes on an otherwise healthy engine:
	// k over the cap, shape or stride mismatches, rejected layouts.
	ErrUsage = errors.New("search: invalid usage")
)

// BuildError is a device-program compilation failure. It carries the
// compiler log of every device the build was attempted on.
type BuildError struct {
	Logs map[string]string // device name -> build log
	Err  error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "search: program build failed: %v", e.Err)
	for dev, log := range e.Logs {
		fmt.Fprintf(&b, "\n[%s]\n%s", dev, log)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// SourceError is a missing or unreadable kernel source file.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("search: cannot read kernel source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
