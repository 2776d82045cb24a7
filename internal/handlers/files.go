package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"photo-rater/internal/logging"
	"photo-rater/internal/mediatypes"
)

// GetFile serves a photo's source bytes. HEIC/HEIF sources are served
// through the transcode cache so browsers receive JPEG.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}

	abs, err := filepath.Abs(id)
	if err != nil || !h.inLibrary(abs) {
		writeJSONError(w, "file is outside the library", http.StatusForbidden)
		return
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		writeJSONError(w, "file not found", http.StatusNotFound)
		return
	}
	if !mediatypes.IsImage(abs) {
		writeJSONError(w, "not a supported image", http.StatusUnsupportedMediaType)
		return
	}

	if h.transcodes != nil && mediatypes.NeedsTranscode(abs) {
		cached, err := h.transcodes.Ensure(r.Context(), abs, info.ModTime())
		if err != nil {
			logging.Error("transcode for %s failed: %v", abs, err)
			writeJSONError(w, "conversion failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, cached)
		return
	}

	w.Header().Set("Content-Type", mediatypes.MimeType(abs))
	http.ServeFile(w, r, abs)
}

// GetThumbnail serves a cached rendition by its content-addressed name.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/thumbs/")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		writeJSONError(w, "invalid thumbnail name", http.StatusBadRequest)
		return
	}

	path := filepath.Join(h.config.ThumbnailDir, name)
	if _, err := os.Stat(path); err != nil {
		writeJSONError(w, "thumbnail not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func (h *Handlers) inLibrary(abs string) bool {
	root := h.library.Root()
	return abs == root || strings.HasPrefix(abs, root+string(os.PathSeparator))
}
