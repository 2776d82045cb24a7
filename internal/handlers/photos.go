package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"photo-rater/internal/logging"
)

// ScanLibrary walks the photo library and returns the discovered photo
// records together with the cached ratings.
func (h *Handlers) ScanLibrary(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.scanning {
		h.mu.Unlock()
		writeJSONError(w, "a scan is already in progress", http.StatusConflict)
		return
	}
	h.scanning = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.scanning = false
		h.mu.Unlock()
	}()

	result, err := h.library.Scan(r.Context())
	if err != nil {
		logging.Error("scan failed: %v", err)
		writeJSONError(w, "scan failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.lastScan = time.Now()
	h.lastPhotoCount = len(result.Photos)
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}

type ratingRequest struct {
	ID     string `json:"id"`
	Rating *int   `json:"rating"`
}

// UpdateRating sets or clears the rating for a photo. Rating 0 clears.
func (h *Handlers) UpdateRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Rating == nil {
		writeJSONError(w, "id and rating are required", http.StatusBadRequest)
		return
	}

	if err := h.library.UpdateRating(r.Context(), req.ID, *req.Rating); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		writeJSONError(w, err.Error(), status)
		return
	}

	writeJSONSuccess(w, map[string]interface{}{
		"id":     req.ID,
		"rating": *req.Rating,
	})
}

// DeletePhoto removes a source file and its cached state.
func (h *Handlers) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.library.DeleteSourceFile(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		writeJSONError(w, err.Error(), status)
		return
	}

	writeJSONSuccess(w, nil)
}

type renameRequest struct {
	ID      string `json:"id"`
	NewName string `json:"newName"`
}

// RenamePhoto renames a source file in place and carries its rating to
// the new identity.
func (h *Handlers) RenamePhoto(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.NewName == "" {
		writeJSONError(w, "id and newName are required", http.StatusBadRequest)
		return
	}

	newID, err := h.library.RenameSourceFile(r.Context(), req.ID, req.NewName)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, os.ErrNotExist):
			status = http.StatusNotFound
		case errors.Is(err, os.ErrExist):
			status = http.StatusConflict
		}
		writeJSONError(w, err.Error(), status)
		return
	}

	writeJSONSuccess(w, map[string]interface{}{"id": newID})
}
