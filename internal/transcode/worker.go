package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"photo-rater/internal/logging"
	"photo-rater/internal/metrics"
)

// The fallback conversion runs in its own execution context so a crash or
// hang in third-party decode logic cannot take down the coordinator.
// Requests and responses are correlated by a monotonically increasing id.
// Each start of the worker goroutine is one incarnation; when an
// incarnation dies its done channel closes, so a caller holding a stale
// reference cannot park a request in a buffer nobody reads. The worker is
// recreated lazily on next use.

type workerRequest struct {
	id    uint64
	ctx   context.Context
	src   string
	dst   string
	reply chan workerResponse
}

type workerResponse struct {
	id  uint64
	err error
}

// workerInstance is one incarnation of the worker goroutine.
type workerInstance struct {
	requests chan workerRequest
	done     chan struct{}
	once     sync.Once
}

// retire marks the incarnation dead. Idempotent; both Stop and the crash
// supervisor call it.
func (i *workerInstance) retire() {
	i.once.Do(func() { close(i.done) })
}

// Worker serializes fallback conversions through a supervised goroutine
// that shells out to ffmpeg.
type Worker struct {
	runFn func(ctx context.Context, src, dst string) error

	mu       sync.Mutex
	inst     *workerInstance
	nextID   uint64
	restarts int
}

// NewWorker returns a fallback worker. The underlying goroutine is started
// lazily on first Convert.
func NewWorker() *Worker {
	return &Worker{runFn: runFFmpeg}
}

// Convert produces dst from src via the fallback decoder, blocking until
// the worker responds, its incarnation dies, or ctx is done.
func (w *Worker) Convert(ctx context.Context, src, dst string) error {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	if w.inst == nil {
		if w.restarts > 0 {
			logging.Info("recreating fallback conversion worker (restart %d)", w.restarts)
			metrics.TranscodeWorkerRestarts.Inc()
		}
		w.restarts++
		w.inst = &workerInstance{
			requests: make(chan workerRequest, 16),
			done:     make(chan struct{}),
		}
		go w.loop(w.inst)
	}
	inst := w.inst
	w.mu.Unlock()

	req := workerRequest{
		id:    id,
		ctx:   ctx,
		src:   src,
		dst:   dst,
		reply: make(chan workerResponse, 1),
	}
	return w.submit(ctx, inst, req)
}

// submit hands req to one incarnation and awaits its answer. The done
// channel covers the window where the incarnation dies between the caller
// picking it up and the reply arriving: a request parked in a dead
// incarnation's buffer errors out instead of blocking forever.
func (w *Worker) submit(ctx context.Context, inst *workerInstance, req workerRequest) error {
	select {
	case inst.requests <- req:
	case <-inst.done:
		return fmt.Errorf("fallback worker is not running")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case resp := <-req.reply:
		if resp.id != req.id {
			return fmt.Errorf("fallback worker answered request %d with response %d", req.id, resp.id)
		}
		return resp.err
	case <-inst.done:
		// The incarnation died after accepting the request. The crash
		// reply for the in-flight request is sent before done closes, so
		// check the buffer once more.
		select {
		case resp := <-req.reply:
			return resp.err
		default:
			return fmt.Errorf("fallback worker died before replying")
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop services one incarnation until it is retired. A panic in the
// conversion path replies to the in-flight caller, retires the
// incarnation, and rejects everything still queued; the next Convert
// starts a fresh one.
func (w *Worker) loop(inst *workerInstance) {
	var current *workerRequest
	defer func() {
		if r := recover(); r != nil {
			logging.Error("fallback conversion worker crashed: %v", r)
			w.detach(inst)
			if current != nil {
				current.reply <- workerResponse{id: current.id, err: fmt.Errorf("fallback worker crashed: %v", r)}
			}
			inst.retire()
			rejectQueued(inst, "fallback worker exited abnormally")
		}
	}()

	for {
		select {
		case req := <-inst.requests:
			current = &req
			err := w.runFn(req.ctx, req.src, req.dst)
			current = nil
			req.reply <- workerResponse{id: req.id, err: err}
		case <-inst.done:
			w.detach(inst)
			rejectQueued(inst, "fallback worker stopped")
			return
		}
	}
}

// detach clears the worker's pointer to a dead incarnation so the next
// Convert starts a new one.
func (w *Worker) detach(inst *workerInstance) {
	w.mu.Lock()
	if w.inst == inst {
		w.inst = nil
	}
	w.mu.Unlock()
}

// rejectQueued answers everything still buffered in a dead incarnation.
func rejectQueued(inst *workerInstance, msg string) {
	for {
		select {
		case req := <-inst.requests:
			req.reply <- workerResponse{id: req.id, err: fmt.Errorf("%s", msg)}
		default:
			return
		}
	}
}

// Stop retires the current incarnation. Requests still queued when Stop
// is called are rejected rather than serviced.
func (w *Worker) Stop() {
	w.mu.Lock()
	inst := w.inst
	w.inst = nil
	w.mu.Unlock()
	if inst != nil {
		inst.retire()
	}
}

// runFFmpeg performs the actual fallback conversion: decode one frame and
// re-encode as a high-quality JPEG. ffmpeg applies rotation metadata
// itself, so the output is orientation-corrected.
func runFFmpeg(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", src,
		"-frames:v", "1",
		"-update", "1",
		"-q:v", "2",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w - %s", err, stderr.String())
	}
	return nil
}
