package stream

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Writer emits delta events onto one HTTP response as an SSE stream. Events
// are written and flushed one at a time in call order; the transport performs
// no batching or reordering.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares an SSE response on w. It fails if the underlying
// connection cannot stream.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it to the client.
func (w *Writer) Send(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Reader consumes delta events from an SSE stream in delivery order.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader over an SSE response body.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: sc}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		return Decode([]byte(strings.TrimPrefix(line, "data: ")))
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
