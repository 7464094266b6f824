//go:build windows

// Package system shells out to OS settings panels on behalf of the host.
package system

import (
	"fmt"
	"os/exec"
)

// OpenAudioSettings launches the Windows sound settings page.
func OpenAudioSettings() error {
	cmd := exec.Command("powershell", "Start", "ms-settings:sound")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("opening sound settings: %w", err)
	}
	return nil
}
