//go:build windows

package main

import "os/exec"

// setSysProcAttr is a no-op on Windows; the detached child still runs
// attached to the parent's job object, but named-pipe daemon dialing does
// not depend on full session detachment to function.
func setSysProcAttr(cmd *exec.Cmd) {}
