package startup

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Version is empty")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %s, want %s", info.GoVersion, runtime.Version())
	}
	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH {
		t.Errorf("OS/Arch = %s/%s, want %s/%s", info.OS, info.Arch, runtime.GOOS, runtime.GOARCH)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		want     string
	}{
		{"unset returns fallback", "", false, "fallback"},
		{"set returns value", "custom", true, "custom"},
		{"empty counts as unset", "", true, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "PHOTO_RATER_TEST_VAR"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			if got := getEnv(key, "fallback"); got != tt.want {
				t.Errorf("getEnv = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
		{"", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			key := "PHOTO_RATER_TEST_BOOL"
			t.Setenv(key, tt.value)
			if got := getEnvBool(key, tt.fallback); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestEnsureDirectory(t *testing.T) {
	root := t.TempDir()

	created := filepath.Join(root, "new", "nested")
	if err := ensureDirectory(created); err != nil {
		t.Fatalf("ensureDirectory: %v", err)
	}
	if info, err := os.Stat(created); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	// Idempotent on an existing directory.
	if err := ensureDirectory(created); err != nil {
		t.Errorf("ensureDirectory on existing dir: %v", err)
	}

	file := filepath.Join(root, "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ensureDirectory(file); err == nil {
		t.Error("ensureDirectory accepted a path occupied by a file")
	}
}

func TestTestWriteAccess(t *testing.T) {
	dir := t.TempDir()
	if err := testWriteAccess(dir); err != nil {
		t.Errorf("testWriteAccess on writable dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".write-test")); !os.IsNotExist(err) {
		t.Error("probe file left behind")
	}

	if err := testWriteAccess(filepath.Join(dir, "does-not-exist")); err == nil {
		t.Error("testWriteAccess on missing dir succeeded")
	}
}

func TestLoadConfig(t *testing.T) {
	library := t.TempDir()
	cache := t.TempDir()
	data := t.TempDir()

	t.Setenv("LIBRARY_DIR", library)
	t.Setenv("CACHE_DIR", cache)
	t.Setenv("DATA_DIR", data)
	t.Setenv("PORT", "9999")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("WATCHER_ENABLED", "false")
	t.Setenv("EXIFTOOL_TIMEOUT", "10s")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.LibraryDir != library {
		t.Errorf("LibraryDir = %s, want %s", config.LibraryDir, library)
	}
	if config.Port != "9999" {
		t.Errorf("Port = %s, want 9999", config.Port)
	}
	if config.MetricsEnabled || config.WatcherEnabled {
		t.Error("feature flags should honor explicit false")
	}
	if config.ExiftoolTimeout != 10*time.Second {
		t.Errorf("ExiftoolTimeout = %v, want 10s", config.ExiftoolTimeout)
	}

	if config.ThumbnailDir != filepath.Join(cache, "thumbnails") {
		t.Errorf("ThumbnailDir = %s", config.ThumbnailDir)
	}
	if config.TranscodeDir != filepath.Join(cache, "transcoded") {
		t.Errorf("TranscodeDir = %s", config.TranscodeDir)
	}
	if !config.ThumbnailsEnabled || !config.TranscodeEnabled {
		t.Error("cache features should be enabled on a writable cache volume")
	}
	for _, dir := range []string{config.ThumbnailDir, config.TranscodeDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("cache subdirectory %s not created: %v", dir, err)
		}
	}
}

func TestLoadConfigRequiresLibraryDir(t *testing.T) {
	t.Setenv("LIBRARY_DIR", filepath.Join(t.TempDir(), "nope"))
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("DATA_DIR", t.TempDir())

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted a missing library directory")
	}
}

func TestLoadConfigInvalidTimeoutFallsBack(t *testing.T) {
	t.Setenv("LIBRARY_DIR", t.TempDir())
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("EXIFTOOL_TIMEOUT", "soon")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.ExiftoolTimeout != 45*time.Second {
		t.Errorf("ExiftoolTimeout = %v, want default 45s", config.ExiftoolTimeout)
	}
}
