package memory

import (
	"testing"
	"time"
)

func TestNoLimitNeverPauses(t *testing.T) {
	m := NewMonitor(Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Millisecond,
	})
	if m.limit != 0 {
		t.Skip("GOMEMLIMIT is set in this environment")
	}

	if m.IsPaused() {
		t.Error("monitor without a limit should not start paused")
	}
	if !m.WaitIfPaused() {
		t.Error("WaitIfPaused should return true immediately without a limit")
	}
	if m.Usage() != 0 {
		t.Errorf("Usage() = %v, want 0", m.Usage())
	}
}

func TestWaitIfPausedBlocksUntilResume(t *testing.T) {
	m := NewMonitor(Config{
		MemoryLimitBytes:  1 << 40,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Hour,
	})

	m.mu.Lock()
	m.isPaused = true
	m.mu.Unlock()

	done := make(chan bool, 1)
	go func() {
		done <- m.WaitIfPaused()
	}()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	m.mu.Lock()
	m.isPaused = false
	close(m.pauseChan)
	m.pauseChan = make(chan struct{})
	m.mu.Unlock()

	select {
	case ok := <-done:
		if !ok {
			t.Error("WaitIfPaused returned false after resume")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after resume")
	}
}

func TestWaitIfPausedReleasedByStop(t *testing.T) {
	m := NewMonitor(Config{
		MemoryLimitBytes:  1 << 40,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Hour,
	})

	m.mu.Lock()
	m.isPaused = true
	m.mu.Unlock()

	done := make(chan bool, 1)
	go func() {
		done <- m.WaitIfPaused()
	}()

	m.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Error("WaitIfPaused should return false when stopped while paused")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Stop")
	}
}
