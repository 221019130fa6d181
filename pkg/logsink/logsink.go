/*
Package logsink implements the Log Sink (C3): a small HTTP client that
forwards batches of log lines to an external log store, tagged with
caller-supplied labels (service_type, service_id, deployment_id per
spec.md §4.2.3 step 12, or image-build output per §4.4). It is the
streaming destination pkg/build's BuildImage writes to and the target a
running swarm service's log driver is configured to forward to.
*/
package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
)

// entry is one [timestamp_ns, line] pair in the wire format the external
// log store expects.
type entry [2]interface{}

// batch is the wire payload: a label set plus the lines observed under it.
type batch struct {
	Labels map[string]string `json:"labels"`
	Lines  []entry           `json:"lines"`
}

// Forwarder posts batches of labelled log lines to an HTTP endpoint,
// buffering briefly so a burst of lines becomes one request instead of
// one request per line.
type Forwarder struct {
	endpoint   string
	httpClient *http.Client
	flushEvery time.Duration

	mu      sync.Mutex
	pending map[string]*batch
}

// NewForwarder creates a Forwarder posting to endpoint.
func NewForwarder(endpoint string) *Forwarder {
	return &Forwarder{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		flushEvery: 2 * time.Second,
		pending:    make(map[string]*batch),
	}
}

// Writer returns an io.Writer that forwards every line it receives under
// labels, suitable for passing to pkg/build.Pipeline.BuildImage.
func (f *Forwarder) Writer(labels map[string]string) *LineWriter {
	return &LineWriter{forwarder: f, labels: labels}
}

// LineWriter adapts Forwarder to io.Writer, splitting writes on newlines.
type LineWriter struct {
	forwarder *Forwarder
	labels    map[string]string
	buf       bytes.Buffer
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: put it back for the next Write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.forwarder.Push(w.labels, line[:len(line)-1])
	}
	return len(p), nil
}

// Push appends one log line to the batch for labels, keyed by their
// stable label-set fingerprint so concurrent services don't interleave.
func (f *Forwarder) Push(labels map[string]string, line string) {
	key := labelKey(labels)

	f.mu.Lock()
	b, ok := f.pending[key]
	if !ok {
		b = &batch{Labels: labels}
		f.pending[key] = b
	}
	b.Lines = append(b.Lines, entry{time.Now().UnixNano(), line})
	f.mu.Unlock()
}

// Flush posts every buffered batch and clears the buffer. Safe to call
// concurrently with Push.
func (f *Forwarder) Flush(ctx context.Context) error {
	f.mu.Lock()
	batches := f.pending
	f.pending = make(map[string]*batch)
	f.mu.Unlock()

	logger := log.WithComponent("logsink")
	var firstErr error
	for _, b := range batches {
		if len(b.Lines) == 0 {
			continue
		}
		if err := f.post(ctx, b); err != nil {
			logger.Error().Err(err).Msg("failed to forward log batch")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run flushes on a ticker until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = f.Flush(ctx)
		case <-ctx.Done():
			_ = f.Flush(context.Background())
			return
		}
	}
}

func (f *Forwarder) post(ctx context.Context, b *batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal log batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post log batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("log sink returned %s", resp.Status)
	}
	return nil
}

func labelKey(labels map[string]string) string {
	var b bytes.Buffer
	for _, k := range []string{"service_type", "service_id", "deployment_id"} {
		fmt.Fprintf(&b, "%s=%s;", k, labels[k])
	}
	return b.String()
}
