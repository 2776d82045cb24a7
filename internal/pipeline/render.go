package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"

	"photo-rater/internal/logging"
	"photo-rater/internal/transcode"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// renderJPEG is the default rendition renderer: decode src, shrink to
// width preserving aspect ratio (never upscaling), and write a JPEG to
// dst. libvips is preferred for its decode-time shrinking; the stdlib
// image stack is the fallback for formats vips rejects for reasons other
// than a missing decode plugin.
func renderJPEG(_ context.Context, src, dst string, width int) error {
	if transcode.IsVipsAvailable() {
		err := transcode.VipsEncodeJPEG(src, dst, width, jpegQuality)
		if err == nil {
			return nil
		}
		if transcode.IsDecodeCapabilityError(err) {
			return err
		}
		logging.Debug("vips render failed for %s, trying stdlib decode: %v", src, err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", src, err)
	}

	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("failed to encode rendition: %w", err)
	}

	if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	return nil
}
