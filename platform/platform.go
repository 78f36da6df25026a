// Package platform resolves OS-specific directories for the service:
// where config and the job database live, where uploads are staged, and
// where downloaded model checkpoints are cached.
package platform

// AppName is used for dotted/lowercase directory names.
const AppName = "metric-sam3d"

// AppDisplayName is used where the platform convention is a human
// readable name (macOS Application Support, Windows AppData).
const AppDisplayName = "Metric SAM3D"

// ServerName names the staging area for uploaded captures.
const ServerName = "metric-sam3d-server"

// ServerDisplayName is the Windows ProgramData folder name.
const ServerDisplayName = "Metric SAM3D Server"

// GetDataDir returns the directory for config and the job database,
// e.g. ~/.local/share/metric-sam3d on Linux.
func GetDataDir() string {
	return getDataDir()
}

// GetTempDir returns the staging directory for uploaded capture
// archives. Contents are disposable across restarts.
func GetTempDir() string {
	return getTempDir()
}

// GetCacheDir returns the cache directory for downloaded model
// checkpoints, e.g. ~/.cache/metric-sam3d on Linux.
func GetCacheDir() string {
	return getCacheDir()
}

// OpenFile opens a file or directory with the platform's default
// application. Used by the visualization CLI.
func OpenFile(path string) error {
	return openFile(path)
}
