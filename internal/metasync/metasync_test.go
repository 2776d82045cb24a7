package metasync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeRunner scripts a sequence of responses for successive calls.
type fakeRunner struct {
	calls     int
	responses []fakeResponse
	lastArgs  []string
}

type fakeResponse struct {
	out []byte
	err error
}

func (f *fakeRunner) run(_ context.Context, args ...string) ([]byte, error) {
	f.lastArgs = args
	resp := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		resp = f.responses[f.calls]
	}
	f.calls++
	return resp.out, resp.err
}

func fastProbe(string) time.Duration { return 0 }

func testConfig() Config {
	return Config{
		Timeout:           time.Second,
		Retries:           2,
		FailureTolerance:  3,
		SlowStatThreshold: 2 * time.Second,
	}
}

func TestNormalizeRating(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name  string
		input *float64
		want  *int
	}{
		{"nil stays nil", nil, nil},
		{"zero", f(0), intPtr(0)},
		{"three stars", f(3), intPtr(3)},
		{"five stars", f(5), intPtr(5)},
		{"percent 100 becomes 5", f(100), intPtr(5)},
		{"percent 60 becomes 3", f(60), intPtr(3)},
		{"percent 50 rounds to 3", f(50), intPtr(3)},
		{"huge percent clamps to 5", f(400), intPtr(5)},
		{"negative clamps to 0", f(-3), intPtr(0)},
		{"fractional rounds", f(3.6), intPtr(4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeRating(tt.input)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("normalizeRating = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("normalizeRating = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func intPtr(v int) *int { return &v }

func TestParseRatingPrefersRatingOverPercent(t *testing.T) {
	out := []byte(`[{"Rating": 4, "RatingPercent": 20}]`)
	got := parseRating(out)
	if got == nil || *got != 4 {
		t.Errorf("parseRating = %v, want 4", got)
	}
}

func TestParseRatingFallsBackToPercent(t *testing.T) {
	out := []byte(`[{"RatingPercent": 80}]`)
	got := parseRating(out)
	if got == nil || *got != 4 {
		t.Errorf("parseRating = %v, want 4", got)
	}
}

func TestParseRatingAbsentIsNil(t *testing.T) {
	for _, out := range []string{`[{}]`, `[]`, `not json`} {
		if got := parseRating([]byte(out)); got != nil {
			t.Errorf("parseRating(%q) = %d, want nil", out, *got)
		}
	}
}

func TestReadRating(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{out: []byte(`[{"Rating": 5}]`)},
	}}
	s := newSync(testConfig(), r, fastProbe)

	got, err := s.ReadRating(context.Background(), "/photos/a.jpg")
	if err != nil {
		t.Fatalf("ReadRating: %v", err)
	}
	if got == nil || *got != 5 {
		t.Fatalf("ReadRating = %v, want 5", got)
	}

	wantArgs := []string{"-j", "-n", "-Rating", "-RatingPercent", "/photos/a.jpg"}
	if len(r.lastArgs) != len(wantArgs) {
		t.Fatalf("args = %v, want %v", r.lastArgs, wantArgs)
	}
	for i := range wantArgs {
		if r.lastArgs[i] != wantArgs[i] {
			t.Errorf("arg[%d] = %q, want %q", i, r.lastArgs[i], wantArgs[i])
		}
	}
}

func TestReadErrorsSurfaceAsNoRating(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{err: errors.New("exiftool: boom")},
	}}
	s := newSync(testConfig(), r, fastProbe)

	got, err := s.ReadRating(context.Background(), "/photos/a.jpg")
	if err != nil {
		t.Fatalf("ReadRating should absorb errors, got %v", err)
	}
	if got != nil {
		t.Errorf("ReadRating = %d, want nil", *got)
	}
}

func TestWriteRatingArgs(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{{}}}
	s := newSync(testConfig(), r, fastProbe)

	if err := s.WriteRating(context.Background(), "/photos/a.jpg", 4); err != nil {
		t.Fatalf("WriteRating: %v", err)
	}

	wantArgs := []string{"-Rating=4", "-RatingPercent=80", "-overwrite_original", "/photos/a.jpg"}
	if len(r.lastArgs) != len(wantArgs) {
		t.Fatalf("args = %v, want %v", r.lastArgs, wantArgs)
	}
	for i := range wantArgs {
		if r.lastArgs[i] != wantArgs[i] {
			t.Errorf("arg[%d] = %q, want %q", i, r.lastArgs[i], wantArgs[i])
		}
	}
}

func TestTimeoutsNeverTripBreaker(t *testing.T) {
	// Every call times out; the breaker must stay closed no matter how
	// many writes fail this way.
	r := &fakeRunner{responses: []fakeResponse{
		{err: fmt.Errorf("exiftool: %w", context.DeadlineExceeded)},
	}}
	cfg := testConfig()
	cfg.FailureTolerance = 2
	s := newSync(cfg, r, fastProbe)

	for i := 0; i < 10; i++ {
		if err := s.WriteRating(context.Background(), "/photos/a.jpg", 3); err == nil {
			t.Fatal("expected an error from exhausted retries")
		}
	}

	if !s.Enabled() {
		t.Error("timeouts must not trip the circuit breaker")
	}
}

func TestTimeoutsThenSuccessRecovers(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{err: fmt.Errorf("exiftool: %w", context.DeadlineExceeded)},
		{err: fmt.Errorf("exiftool: %w", context.DeadlineExceeded)},
		{out: []byte(`[{"Rating": 2}]`)},
	}}
	s := newSync(testConfig(), r, fastProbe)

	got, err := s.ReadRating(context.Background(), "/photos/a.jpg")
	if err != nil {
		t.Fatalf("ReadRating: %v", err)
	}
	if got == nil || *got != 2 {
		t.Fatalf("ReadRating = %v, want 2 after retries", got)
	}
	if r.calls != 3 {
		t.Errorf("runner called %d times, want 3", r.calls)
	}
	if !s.Enabled() {
		t.Error("breaker should remain closed")
	}
}

func TestNonTimeoutFailuresTripBreakerPermanently(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{err: errors.New("exiftool: corrupt file")},
	}}
	cfg := testConfig()
	cfg.FailureTolerance = 3
	s := newSync(cfg, r, fastProbe)

	for i := 0; i < 3; i++ {
		s.WriteRating(context.Background(), "/photos/a.jpg", 3)
	}

	if s.Enabled() {
		t.Fatal("breaker should be open after tolerance is exceeded")
	}

	// Disabled sync is silent: no calls, no errors.
	callsBefore := r.calls
	if err := s.WriteRating(context.Background(), "/photos/a.jpg", 3); err != nil {
		t.Errorf("disabled WriteRating should be a silent no-op, got %v", err)
	}
	got, err := s.ReadRating(context.Background(), "/photos/a.jpg")
	if err != nil || got != nil {
		t.Errorf("disabled ReadRating = (%v, %v), want (nil, nil)", got, err)
	}
	if r.calls != callsBefore {
		t.Error("disabled sync must not invoke the tool")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{
		{err: errors.New("fail 1")},
		{err: errors.New("fail 2")},
		{out: []byte(`[{}]`)},
		{err: errors.New("fail 3")},
		{err: errors.New("fail 4")},
	}}
	cfg := testConfig()
	cfg.FailureTolerance = 3
	s := newSync(cfg, r, fastProbe)

	ctx := context.Background()
	s.WriteRating(ctx, "/photos/a.jpg", 1)
	s.WriteRating(ctx, "/photos/a.jpg", 1)
	s.WriteRating(ctx, "/photos/a.jpg", 1) // success, resets
	s.WriteRating(ctx, "/photos/a.jpg", 1)
	s.WriteRating(ctx, "/photos/a.jpg", 1)

	if !s.Enabled() {
		t.Error("non-consecutive failures should not trip the breaker")
	}
}

func TestSlowVolumeGuardSkipsWrites(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{{}}}
	probes := 0
	slowProbe := func(string) time.Duration {
		probes++
		return 3 * time.Second
	}
	s := newSync(testConfig(), r, slowProbe)

	ctx := context.Background()
	if err := s.WriteRating(ctx, "/slow/a.jpg", 4); err != nil {
		t.Fatalf("WriteRating on slow volume should no-op, got %v", err)
	}
	if err := s.WriteRating(ctx, "/slow/b.jpg", 4); err != nil {
		t.Fatalf("WriteRating: %v", err)
	}

	if r.calls != 0 {
		t.Error("writes to a slow directory must not invoke the tool")
	}
	if probes != 1 {
		t.Errorf("directory probed %d times, want 1 (first probe wins)", probes)
	}

	// Reads are unaffected by the slow-volume guard.
	r.responses = []fakeResponse{{out: []byte(`[{"Rating": 1}]`)}}
	got, err := s.ReadRating(ctx, "/slow/a.jpg")
	if err != nil || got == nil || *got != 1 {
		t.Errorf("ReadRating on slow volume = (%v, %v), want 1", got, err)
	}
}

func TestFastVolumeProbedOnce(t *testing.T) {
	r := &fakeRunner{responses: []fakeResponse{{}}}
	probes := 0
	probe := func(string) time.Duration {
		probes++
		return time.Millisecond
	}
	s := newSync(testConfig(), r, probe)

	ctx := context.Background()
	s.WriteRating(ctx, "/fast/a.jpg", 2)
	s.WriteRating(ctx, "/fast/b.jpg", 2)

	if probes != 1 {
		t.Errorf("directory probed %d times, want 1", probes)
	}
	if r.calls != 2 {
		t.Errorf("runner called %d times, want 2", r.calls)
	}
}

func TestWriteRatingRejectsOutOfRange(t *testing.T) {
	s := newSync(testConfig(), &fakeRunner{responses: []fakeResponse{{}}}, fastProbe)

	for _, rating := range []int{-1, 6} {
		if err := s.WriteRating(context.Background(), "/photos/a.jpg", rating); err == nil {
			t.Errorf("WriteRating(%d) should fail", rating)
		}
	}
}
