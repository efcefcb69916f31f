package vision

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Goutham-K-278/AgroSense/internal/logging"
	"github.com/Goutham-K-278/AgroSense/internal/metric"
)

// Wire protocol: one JSON object per line.
//
//	host -> worker:  {"id": N, "image": "<base64>"}
//	worker -> host:  {"type": "ready"}
//	worker -> host:  {"id": N, "label": "...", "confidence": F, "scores": [...]}
//	worker -> host:  {"id": N, "error": "..."}

type inferRequest struct {
	ID    uint64 `json:"id"`
	Image string `json:"image"`
}

// workerMessage covers every inbound line shape. ID is a pointer because
// the worker emits uncorrelated error lines with a null id when it cannot
// parse a request.
type workerMessage struct {
	Type       string    `json:"type,omitempty"`
	ID         *uint64   `json:"id,omitempty"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Scores     []float64 `json:"scores,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// muxOutcome is the settled value of one request: exactly one of res/err.
type muxOutcome struct {
	res *InferenceResult
	err error
}

type submitRequest struct {
	image  []byte
	respCh chan muxOutcome
}

type pendingRequest struct {
	respCh chan muxOutcome
	timer  *time.Timer
}

type writeJob struct {
	id      uint64
	payload []byte
}

type writeFailure struct {
	id  uint64
	err error
}

// lineMux frames the worker's byte stream into line-delimited messages and
// correlates each to a pending request by numeric id. A single run loop
// exclusively owns the pending map and the id counter; callers communicate
// over channels, so no lock protects mux state. Ordering across requests is
// inherited from the worker, which answers one line at a time.
//
// Stdin writes happen on a separate writer goroutine: a worker that stops
// reading its stdin stalls only the writer, while expiry timers and answers
// for earlier requests keep settling through the run loop.
type lineMux struct {
	stdin      io.Writer
	timeout    time.Duration
	maxPending int
	metrics    *metric.VisionMetrics

	submitCh chan submitRequest
	lineCh   chan []byte
	expireCh chan uint64
	resetCh  chan error

	// writeCh queues outbound payloads for the writer goroutine; the run
	// loop only ever enqueues non-blocking. failCh carries write errors
	// back for settlement.
	writeCh chan writeJob
	failCh  chan writeFailure

	// readyCh is closed once when the worker's ready signal arrives.
	readyCh chan struct{}

	// done is closed when the run loop exits; after that every submit and
	// feed is a no-op.
	done chan struct{}
}

func newLineMux(stdin io.Writer, timeout time.Duration, maxPending int, metrics *metric.VisionMetrics) *lineMux {
	m := &lineMux{
		stdin:      stdin,
		timeout:    timeout,
		maxPending: maxPending,
		metrics:    metrics,
		submitCh:   make(chan submitRequest),
		lineCh:     make(chan []byte),
		expireCh:   make(chan uint64),
		resetCh:    make(chan error, 1),
		writeCh:    make(chan writeJob, maxPending),
		failCh:     make(chan writeFailure),
		readyCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go m.run()
	go m.writeLoop()
	return m
}

// submit registers the image for inference and returns a one-shot channel
// that settles exactly once: with a result, a per-request error, or the
// supervisor-wide reset reason.
func (m *lineMux) submit(image []byte) <-chan muxOutcome {
	respCh := make(chan muxOutcome, 1)
	select {
	case m.submitCh <- submitRequest{image: image, respCh: respCh}:
	case <-m.done:
		respCh <- muxOutcome{err: fmt.Errorf("%w: worker stream closed", ErrProcessFailed)}
	}
	return respCh
}

// feed hands one raw line from the worker's stdout to the run loop. Lines
// arriving after a reset are dropped.
func (m *lineMux) feed(line []byte) {
	buf := append([]byte(nil), line...)
	select {
	case m.lineCh <- buf:
	case <-m.done:
	}
}

// reset rejects every pending request with the given reason and stops the
// run loop. Called once, on the worker's exit or error event.
func (m *lineMux) reset(reason error) {
	select {
	case m.resetCh <- reason:
	case <-m.done:
	}
}

func (m *lineMux) run() {
	pending := make(map[uint64]*pendingRequest)
	var nextID uint64
	readySignaled := false

	for {
		select {
		case req := <-m.submitCh:
			if len(pending) >= m.maxPending {
				req.respCh <- muxOutcome{err: fmt.Errorf("%w: %d requests outstanding", ErrBacklogFull, len(pending))}
				continue
			}

			nextID++
			id := nextID

			payload, err := json.Marshal(inferRequest{
				ID:    id,
				Image: base64.StdEncoding.EncodeToString(req.image),
			})
			if err != nil {
				req.respCh <- muxOutcome{err: fmt.Errorf("%w: encode request %d: %v", ErrProcessFailed, id, err)}
				continue
			}

			// The enqueue must never block the run loop: a stalled writer
			// with a full queue surfaces as backlog pressure instead.
			select {
			case m.writeCh <- writeJob{id: id, payload: append(payload, '\n')}:
			default:
				req.respCh <- muxOutcome{err: fmt.Errorf("%w: write queue full", ErrBacklogFull)}
				continue
			}

			// The timeout clock runs from submission, even if the worker
			// never reads the request off its stdin.
			pr := &pendingRequest{respCh: req.respCh}
			pr.timer = time.AfterFunc(m.timeout, func() {
				select {
				case m.expireCh <- id:
				case <-m.done:
				}
			})
			pending[id] = pr
			logging.ProtocolDebug("Submitted request %d (%d pending)", id, len(pending))

		case line := <-m.lineCh:
			m.handleLine(pending, line, &readySignaled)

		case f := <-m.failCh:
			// A write failure rejects only this request; the stream may
			// still carry answers for earlier ids.
			pr, ok := pending[f.id]
			if !ok {
				continue
			}
			delete(pending, f.id)
			pr.timer.Stop()
			pr.respCh <- muxOutcome{err: fmt.Errorf("%w: write request %d: %v", ErrProcessFailed, f.id, f.err)}

		case id := <-m.expireCh:
			pr, ok := pending[id]
			if !ok {
				continue
			}
			delete(pending, id)
			logging.ProtocolWarn("Request %d timed out after %s", id, m.timeout)
			pr.respCh <- muxOutcome{err: fmt.Errorf("%w: request %d after %s", ErrInferenceTimeout, id, m.timeout)}

		case reason := <-m.resetCh:
			for id, pr := range pending {
				pr.timer.Stop()
				pr.respCh <- muxOutcome{err: reason}
				delete(pending, id)
			}
			close(m.done)
			logging.Protocol("Multiplexer reset: %v", reason)
			return
		}
	}
}

// writeLoop serializes stdin writes off the run loop. A write that blocks
// on a stalled worker pins only this goroutine; it unwinds when the
// supervisor kills the process and the pipe closes.
func (m *lineMux) writeLoop() {
	for {
		select {
		case job := <-m.writeCh:
			if _, err := m.stdin.Write(job.payload); err != nil {
				logging.ProtocolWarn("Write for request %d failed: %v", job.id, err)
				select {
				case m.failCh <- writeFailure{id: job.id, err: err}:
				case <-m.done:
					return
				}
			}
		case <-m.done:
			return
		}
	}
}

func (m *lineMux) handleLine(pending map[uint64]*pendingRequest, line []byte, readySignaled *bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var msg workerMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		// Interpreter noise legitimately shares the channel; drop the
		// line, keep the stream.
		m.metrics.ObserveNoise()
		logging.ProtocolDebug("Dropping unparseable line: %.120s", string(line))
		return
	}

	if msg.Type == "ready" {
		if !*readySignaled {
			*readySignaled = true
			close(m.readyCh)
			logging.Protocol("Worker signaled ready")
		}
		return
	}

	if msg.ID == nil {
		m.metrics.ObserveNoise()
		logging.ProtocolWarn("Dropping uncorrelated worker message: %.120s", string(line))
		return
	}

	pr, ok := pending[*msg.ID]
	if !ok {
		// Late answer for an id that already timed out, or an id we never
		// issued. Either way it is dropped, never resurrected.
		logging.ProtocolDebug("Dropping response for unknown id %d", *msg.ID)
		return
	}
	delete(pending, *msg.ID)
	pr.timer.Stop()

	if msg.Error != "" {
		pr.respCh <- muxOutcome{err: fmt.Errorf("%w: %s", ErrProcessFailed, msg.Error)}
		return
	}

	pr.respCh <- muxOutcome{res: &InferenceResult{
		RawLabel:   msg.Label,
		Confidence: msg.Confidence,
		Scores:     msg.Scores,
	}}
}

// readLines scans the worker's stdout into the run loop until the stream
// ends. Runs on its own goroutine; stream teardown is handled by the
// supervisor's exit path, not here.
func (m *lineMux) readLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m.feed(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		logging.ProtocolDebug("Worker stdout closed: %v", err)
	}
}
