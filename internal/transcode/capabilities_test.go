package transcode

import "testing"

func TestCapabilitiesLatch(t *testing.T) {
	caps := NewCapabilities()

	if !caps.CanDecodeHEIF() {
		t.Fatal("HEIF decode should be assumed available until proven otherwise")
	}

	caps.MarkHEIFDecodeUnavailable()
	if caps.CanDecodeHEIF() {
		t.Fatal("latch did not stick")
	}

	// One-way: marking again changes nothing, and there is no reset.
	caps.MarkHEIFDecodeUnavailable()
	if caps.CanDecodeHEIF() {
		t.Fatal("latch must be permanent for the process")
	}
}
