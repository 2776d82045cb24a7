package transcode

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"photo-rater/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips initializes the libvips library.
// This should be called once at startup.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Route vips logs through our logger, thresholded by the app level.
	// Configure BEFORE Startup() so LOG_LEVEL is respected from the first
	// message.
	vipsLogLevel := vips.LogLevelWarning
	if logging.IsDebugEnabled() {
		vipsLogLevel = vips.LogLevelInfo
	}
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch {
		case level <= vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case level == vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}, vipsLogLevel)

	// Conservative memory settings: one image at a time, small op cache.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// VipsEncodeJPEG decodes src with libvips, auto-rotates, optionally shrinks
// to width (aspect preserved, never upscaling), and writes a JPEG of the
// given quality to dst. width 0 keeps the source dimensions. libvips
// shrinks during decode, which keeps memory bounded even for very large
// sources.
func VipsEncodeJPEG(src, dst string, width, quality int) error {
	if !IsVipsAvailable() {
		return fmt.Errorf("libvips not available")
	}

	ref, err := vips.LoadImageFromFile(src, vips.NewImportParams())
	if err != nil {
		return fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return fmt.Errorf("vips auto-rotate failed: %w", err)
	}

	if width > 0 && ref.Width() > width {
		height := ref.Height() * width / ref.Width()
		if height < 1 {
			height = 1
		}
		if err := ref.Thumbnail(width, height, vips.InterestingNone); err != nil {
			return fmt.Errorf("vips resize failed: %w", err)
		}
	}

	imgBytes, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        quality,
		StripMetadata:  false,
		OptimizeCoding: true,
	})
	if err != nil {
		return fmt.Errorf("vips export failed: %w", err)
	}

	if err := os.WriteFile(dst, imgBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	logging.Debug("vips encoded %s -> %s (%dx%d)", src, dst, ref.Width(), ref.Height())
	return nil
}

// decodeCapabilitySignatures are the known error fragments that mean the
// primary decoder lacks the decode plugin for this format family, as
// opposed to the file itself being broken.
var decodeCapabilitySignatures = []string{
	"heifload",
	"no known loader",
	"is not a known file format",
	"unknown format",
	"no such operation",
	"bad seek",
	"unsupported image format",
}

// IsDecodeCapabilityError reports whether err matches a known
// decode-capability failure signature. These flip the process-wide
// capability flag and route to the fallback; any other conversion error is
// fatal to the attempt.
func IsDecodeCapabilityError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range decodeCapabilitySignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
