package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"photo-rater/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	LibraryDir  string
	CacheDir    string
	DataDir     string
	Port        string
	MetricsPort string

	MetricsEnabled  bool
	WatcherEnabled  bool
	ExiftoolTimeout time.Duration

	// Derived paths
	ThumbnailDir string
	TranscodeDir string

	// Feature flags based on directory availability
	ThumbnailsEnabled bool
	TranscodeEnabled  bool
}

// LoadConfig loads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	logging.Info("photo-rater %s (%s, %s/%s)", Version, GoVersion, runtime.GOOS, runtime.GOARCH)
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	libraryDir := getEnv("LIBRARY_DIR", "/photos")
	cacheDir := getEnv("CACHE_DIR", "/cache")
	dataDir := getEnv("DATA_DIR", "/data")
	port := getEnv("PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)
	watcherEnabled := getEnvBool("WATCHER_ENABLED", true)
	exiftoolTimeoutStr := getEnv("EXIFTOOL_TIMEOUT", "45s")

	logging.Info("  LIBRARY_DIR:      %s", libraryDir)
	logging.Info("  CACHE_DIR:        %s", cacheDir)
	logging.Info("  DATA_DIR:         %s", dataDir)
	logging.Info("  PORT:             %s", port)
	logging.Info("  METRICS_PORT:     %s", metricsPort)
	logging.Info("  METRICS_ENABLED:  %v", metricsEnabled)
	logging.Info("  WATCHER_ENABLED:  %v", watcherEnabled)
	logging.Info("  EXIFTOOL_TIMEOUT: %s", exiftoolTimeoutStr)
	logging.Info("  LOG_LEVEL:        %s", logging.GetLevel())

	exiftoolTimeout, err := time.ParseDuration(exiftoolTimeoutStr)
	if err != nil {
		logging.Warn("  Invalid EXIFTOOL_TIMEOUT %q, using default: 45s", exiftoolTimeoutStr)
		exiftoolTimeout = 45 * time.Second
	}

	libraryDir, err = filepath.Abs(libraryDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library directory path: %w", err)
	}
	cacheDir, err = filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	config := &Config{
		LibraryDir:      libraryDir,
		CacheDir:        cacheDir,
		DataDir:         dataDir,
		Port:            port,
		MetricsPort:     metricsPort,
		MetricsEnabled:  metricsEnabled,
		WatcherEnabled:  watcherEnabled,
		ExiftoolTimeout: exiftoolTimeout,
		ThumbnailDir:    filepath.Join(cacheDir, "thumbnails"),
		TranscodeDir:    filepath.Join(cacheDir, "transcoded"),
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	// The library must exist; nothing works without it.
	if info, statErr := os.Stat(libraryDir); statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("library directory %s is not a readable directory", libraryDir)
	}
	logging.Info("  [OK] Library directory: %s", libraryDir)

	// The data directory holds the rating store. It is required and must
	// be writable.
	if err := ensureDirectory(dataDir); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}
	if err := testWriteAccess(dataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for the rating store): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	// Cache directories are optional; a read-only cache volume just
	// disables the corresponding feature.
	config.ThumbnailsEnabled = setupOptionalDir(config.ThumbnailDir, "thumbnails")
	config.TranscodeEnabled = setupOptionalDir(config.TranscodeDir, "transcoding")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Rating store: ENABLED (required)")
	logging.Info("    Thumbnails:   %s", enabledString(config.ThumbnailsEnabled))
	logging.Info("    Transcoding:  %s", enabledString(config.TranscodeEnabled))
	logging.Info("    Metrics:      %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func ensureDirectory(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", path)
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write-test file %s: %v", testFile, err)
	}
	return nil
}

func setupOptionalDir(path, name string) bool {
	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("  Failed to create %s directory: %v; %s will be disabled", name, err, name)
		return false
	}
	if err := testWriteAccess(path); err != nil {
		logging.Warn("  %s directory is not writable: %v; %s will be disabled", name, err, name)
		return false
	}
	logging.Debug("  [OK] %s directory ready: %s", name, path)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}
