// Package startup loads and validates configuration from the environment
// and prepares the directory layout before any component starts.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig].
// The following environment variables are supported:
//
//   - LIBRARY_DIR: Path to the photo library (default: /photos)
//   - CACHE_DIR: Path to the cache volume for thumbnails and transcodes (default: /cache)
//   - DATA_DIR: Path to the data directory holding the rating store (default: /data)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable the metrics listener (default: true)
//   - WATCHER_ENABLED: Enable or disable the filesystem watcher (default: true)
//   - EXIFTOOL_TIMEOUT: Per-call exiftool timeout as a Go duration (default: 45s)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//
// # Directory Setup
//
// [LoadConfig] validates and prepares the directory layout:
//   - Library directory: must exist; checked but never created
//   - Data directory: required and must be writable (it holds the rating store)
//   - Cache directories: optional; a missing or read-only cache volume
//     disables thumbnails and transcoding instead of failing startup
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
package startup
