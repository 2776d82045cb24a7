package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photo-rater/internal/logging"
)

// ClearCache deletes all cached renditions and transcoded files,
// reporting how many bytes were freed. The next scan rebuilds them.
func (h *Handlers) ClearCache(w http.ResponseWriter, _ *http.Request) {
	var freed int64

	if h.pipeline != nil {
		n, err := h.pipeline.ClearCache()
		if err != nil {
			logging.Warn("thumbnail cache clear: %v", err)
		}
		freed += n
	}
	if h.transcodes != nil {
		n, err := h.transcodes.ClearCache()
		if err != nil {
			logging.Warn("transcode cache clear: %v", err)
		}
		freed += n
	}

	logging.Info("cache cleared, %d bytes freed", freed)
	writeJSONSuccess(w, map[string]interface{}{"freedBytes": freed})
}

// MetricsHandler returns the Prometheus metrics handler
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
