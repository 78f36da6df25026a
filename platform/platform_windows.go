//go:build windows
// +build windows

package platform

import (
	"os"
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, "."+AppName)
	}
	return filepath.Join(appData, AppDisplayName)
}

func getTempDir() string {
	programData := os.Getenv("ProgramData")
	if programData == "" {
		return filepath.Join(os.TempDir(), ServerName)
	}
	return filepath.Join(programData, ServerDisplayName, "tmp")
}

// Cache and data share a location on Windows.
func getCacheDir() string { return getDataDir() }

func openFile(path string) error {
	// the empty argument is the start command's window title
	return exec.Command("cmd", "/c", "start", "", path).Start()
}
