package vrc

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// GameRunning reports whether a process with the given executable name
// (matched case-insensitively, e.g. "VRChat.exe") is running. Errors while
// scanning are treated as "not running": this only feeds the status
// endpoint and must never fail a command.
func GameRunning(name string) bool {
	if name == "" {
		return false
	}
	procs, err := process.Processes()
	if err != nil {
		return false
	}
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
