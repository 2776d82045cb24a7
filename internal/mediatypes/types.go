// Package mediatypes holds the static per-extension tables that describe
// which files the library considers photos, how they are served, and which
// formats need a compatibility transcode before the primary decoder can
// handle them.
package mediatypes

import (
	"path/filepath"
	"strings"
)

// ImageExtensions maps file extensions to whether they are supported photo formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
}

// TranscodeExtensions maps file extensions to whether the format needs the
// compatibility transcode path before browsers (and the stdlib decoder) can
// display it. Today that is the HEIF family.
var TranscodeExtensions = map[string]bool{
	".heic": true,
	".heif": true,
}

// TranscodeRule describes how a transcode-required format is converted.
type TranscodeRule struct {
	// TargetExt is the extension of the converted cache entry.
	TargetExt string
	// Quality is the lossy re-encode quality (JPEG scale, 1-100).
	Quality int
}

// HEIFRule is the single transcode rule in use: HEIC/HEIF sources become
// rotation-corrected quality-92 JPEGs.
var HEIFRule = TranscodeRule{TargetExt: ".jpg", Quality: 92}

// IsImage reports whether path has a supported photo extension.
func IsImage(path string) bool {
	return ImageExtensions[strings.ToLower(filepath.Ext(path))]
}

// NeedsTranscode reports whether path's format requires the compatibility
// transcode before inline decoding.
func NeedsTranscode(path string) bool {
	return TranscodeExtensions[strings.ToLower(filepath.Ext(path))]
}

// MimeType returns the mime type for a supported extension, falling back to
// application/octet-stream.
func MimeType(path string) string {
	mimeTypes := map[string]string{
		".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
		".gif": "image/gif", ".bmp": "image/bmp", ".webp": "image/webp",
		".tiff": "image/tiff", ".tif": "image/tiff",
		".heic": "image/heic", ".heif": "image/heif",
	}
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}
