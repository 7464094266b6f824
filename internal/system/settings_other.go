//go:build !windows

// Package system shells out to OS settings panels on behalf of the host.
package system

import "log"

// OpenAudioSettings is a no-op outside Windows; the settings page this
// opens only exists there.
func OpenAudioSettings() error {
	log.Println("audio settings only available on Windows")
	return nil
}
