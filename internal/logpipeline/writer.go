// Package logpipeline streams a supervised app's stdout/stderr into rotated,
// optionally compressed on-disk logs without ever blocking the child on slow
// storage. A Writer is a single-producer-many/single-consumer
// pipeline: Write enqueues under a non-blocking semaphore permit; one
// background goroutine owns the file handle, line splitting, rotation, and
// the write-error circuit breaker.
package logpipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bunctl/bunctl/internal/app"
	"github.com/bunctl/bunctl/internal/backoff"
)

// queueCapacity bounds the number of in-flight Write() calls the semaphore
// will admit before the backpressure contract kicks in and new writes drop.
const queueCapacity = 4096

// degradedThreshold is the consecutive-write-error count after which the
// writer trips its circuit breaker.
const degradedThreshold = 10

// Rotation configures when and how a Writer rotates its backing file.
type Rotation struct {
	MaxFileSize int64
	MaxFiles    int
	Daily       bool
	Compress    bool
}

// Writer owns one destination file (stdout OR stderr of one app instance)
// and the async pipeline feeding it.
type Writer struct {
	path     string
	rotation Rotation
	flushEvery time.Duration

	sem   *semaphore.Weighted
	queue chan []byte

	counters *counters

	mu                sync.Mutex
	file              *os.File
	size              int64
	rotatedOnDay      int
	lb                *LineBuffer
	consecutiveErrors int
	degraded          bool

	retryPolicy app.BackoffPolicy

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
}

// writeErrorBackoff is the fixed retry schedule for write failures:
// exponential backoff (100, 200, 400, 800, 1600 ms; 5 attempts).
func writeErrorBackoff() app.BackoffPolicy {
	return app.BackoffPolicy{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       1600 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0,
		MaxAttempts:    5,
	}
}

// NewWriter opens (or creates) path for append and starts the consumer
// goroutine. flushEvery <= 0 falls back to a 100ms default.
func NewWriter(path string, rotation Rotation, flushEvery time.Duration) (*Writer, error) {
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	if rotation.MaxFiles <= 0 {
		rotation.MaxFiles = 5
	}

	w := &Writer{
		path:        path,
		rotation:    rotation,
		flushEvery:  flushEvery,
		sem:         semaphore.NewWeighted(queueCapacity),
		queue:       make(chan []byte, queueCapacity),
		counters:    newCounters(),
		lb:          NewLineBuffer(0, 0),
		retryPolicy: writeErrorBackoff(),
		closeCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	if err := w.openLocked(); err != nil {
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Writer) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.mu.Lock()
	w.file = f
	w.size = info.Size()
	w.rotatedOnDay = time.Now().YearDay()
	w.mu.Unlock()
	return nil
}

// Write implements io.Writer so a Writer can be plugged straight into
// exec.Cmd.Stdout/Stderr. It never blocks or errors the child on backpressure
// or a tripped circuit breaker: the contract is silent loss, observable
// only through the dropped_messages metric, so it always reports
// len(p) written even when the bytes were in fact dropped.
func (w *Writer) Write(p []byte) (int, error) {
	n := len(p)
	w.mu.Lock()
	degraded := w.degraded
	w.mu.Unlock()
	if degraded {
		w.counters.droppedMessages.Add(1)
		return n, nil
	}

	if !w.sem.TryAcquire(1) {
		w.counters.droppedMessages.Add(1)
		return n, nil
	}

	cp := make([]byte, n)
	copy(cp, p)

	select {
	case w.queue <- cp:
	default:
		// Capacity and semaphore weight are equal, so this should not happen;
		// treat it the same as backpressure rather than blocking the caller.
		w.sem.Release(1)
		w.counters.droppedMessages.Add(1)
	}
	return n, nil
}

func (w *Writer) run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	var healTicker *time.Ticker
	for {
		select {
		case chunk := <-w.queue:
			w.consume(chunk)
			w.sem.Release(1)
		case <-ticker.C:
			_ = w.Flush(true)
			w.checkDailyRotation()
		case <-w.closeCh:
			w.drainQueue()
			_ = w.Flush(true)
			w.mu.Lock()
			if w.file != nil {
				_ = w.file.Close()
			}
			w.mu.Unlock()
			if healTicker != nil {
				healTicker.Stop()
			}
			return
		}

		w.mu.Lock()
		needsHeal := w.degraded
		w.mu.Unlock()
		if needsHeal && healTicker == nil {
			healTicker = time.NewTicker(2 * time.Second)
		}
		if healTicker != nil {
			select {
			case <-healTicker.C:
				if w.tryHeal() {
					healTicker.Stop()
					healTicker = nil
				}
			default:
			}
		}
	}
}

func (w *Writer) drainQueue() {
	for {
		select {
		case chunk := <-w.queue:
			w.consume(chunk)
			w.sem.Release(1)
		default:
			return
		}
	}
}

func (w *Writer) consume(chunk []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.degraded {
		w.counters.droppedMessages.Add(1)
		return
	}

	lines := w.lb.Feed(chunk)
	if overflow := w.lb.Overflows(); overflow > w.counters.bufferOverflows.Load() {
		w.counters.bufferOverflows.Store(overflow)
	}
	for _, line := range lines {
		w.writeLineLocked(line)
	}
}

// writeLineLocked writes one line with the fixed retry schedule, trips the
// circuit breaker after degradedThreshold consecutive failures, and rotates
// when the post-write size crosses MaxFileSize. Caller holds w.mu.
func (w *Writer) writeLineLocked(line []byte) {
	engine := backoff.New(w.retryPolicy)
	start := time.Now()

	var lastErr error
	for {
		if w.file == nil {
			lastErr = fmt.Errorf("log writer: file not open")
		} else {
			n, err := w.file.Write(line)
			if err == nil {
				w.size += int64(n)
				w.counters.recordWrite(n, time.Since(start))
				w.consecutiveErrors = 0
				w.maybeRotateSizeLocked()
				return
			}
			lastErr = err
		}

		d, ok := engine.NextDelay()
		if !ok {
			break
		}
		w.mu.Unlock()
		time.Sleep(d)
		w.mu.Lock()
	}

	w.counters.writeErrors.Add(1)
	w.consecutiveErrors++
	if w.consecutiveErrors >= degradedThreshold {
		w.degraded = true
	}
	_ = lastErr
}

func (w *Writer) tryHeal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.degraded {
		return true
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return false
	}
	w.file = f
	w.size = info.Size()
	w.degraded = false
	w.consecutiveErrors = 0
	return true
}

// Flush drains any retained partial line (wrapping it with a synthetic
// newline when synthesizePartial is set) and fsyncs the file.
func (w *Writer) Flush(synthesizePartial bool) error {
	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if tail := w.lb.Flush(synthesizePartial); len(tail) > 0 {
		w.writeLineLocked(tail)
	}
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	w.counters.recordFlush(time.Since(start))
	return err
}

func (w *Writer) maybeRotateSizeLocked() {
	if w.rotation.MaxFileSize > 0 && w.size >= w.rotation.MaxFileSize {
		w.rotateLocked()
	}
}

func (w *Writer) checkDailyRotation() {
	if !w.rotation.Daily {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	today := time.Now().YearDay()
	if today != w.rotatedOnDay {
		w.rotateLocked()
		w.rotatedOnDay = today
	}
}

// rotateLocked performs the rotation sequence: flush+close, rename to a
// timestamped path (fsyncing the parent dir on Unix), reopen, enqueue
// background compression, and enforce MaxFiles. Caller holds w.mu.
func (w *Writer) rotateLocked() {
	if w.file != nil {
		_ = w.file.Sync()
		_ = w.file.Close()
		w.file = nil
	}

	rotated := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102T150405.000000000"))
	if err := atomicRename(w.path, rotated); err != nil {
		// Rotation failed; keep appending to the existing file rather than
		// losing data. Reopen below will recreate it if it vanished.
		rotated = ""
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		w.file = f
		w.size = 0
	}
	w.counters.rotationCount.Add(1)

	if rotated == "" {
		return
	}

	if w.rotation.Compress {
		compressInBackground(rotated, func(string, error) {})
	}
	w.enforceMaxFilesLocked()
}

// enforceMaxFilesLocked deletes the oldest rotated siblings of w.path beyond
// rotation.MaxFiles. Caller holds w.mu.
func (w *Writer) enforceMaxFilesLocked() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var siblings []string
	prefix := base + "."
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) {
			siblings = append(siblings, filepath.Join(dir, name))
		}
	}
	if len(siblings) <= w.rotation.MaxFiles {
		return
	}

	sort.Strings(siblings) // timestamp suffix sorts lexically == chronologically
	excess := len(siblings) - w.rotation.MaxFiles
	for _, p := range siblings[:excess] {
		_ = os.Remove(p)
	}
}

// Rotate requests an explicit rotation).
func (w *Writer) Rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rotateLocked()
}

// Snapshot returns a point-in-time copy of this Writer's metrics.
func (w *Writer) Snapshot() Snapshot { return w.counters.snapshot() }

// Close stops the consumer goroutine after draining the queue and flushing.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.closeCh) })
	<-w.doneCh
	return nil
}
