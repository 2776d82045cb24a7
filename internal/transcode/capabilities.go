package transcode

import "sync"

// Capabilities is the process-scoped registry of decode capability flags.
// Each flag has the lifecycle "assumed available, set unavailable once,
// read for the rest of the run". It is an explicit handle rather than
// package globals so tests can reset it between cases.
type Capabilities struct {
	mu         sync.Mutex
	heifDecode bool
}

// NewCapabilities returns a registry with every capability assumed
// available.
func NewCapabilities() *Capabilities {
	return &Capabilities{heifDecode: true}
}

// CanDecodeHEIF reports whether the primary decoder is still trusted for
// the HEIF format family.
func (c *Capabilities) CanDecodeHEIF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heifDecode
}

// MarkHEIFDecodeUnavailable records that the primary decoder lacks HEIF
// support. One-way for the rest of the process: subsequent conversions go
// straight to the fallback.
func (c *Capabilities) MarkHEIFDecodeUnavailable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heifDecode = false
}
