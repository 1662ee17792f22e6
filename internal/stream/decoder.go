// Package stream decodes the engine's chunked NDJSON event stream. The
// transport delivers arbitrary byte chunks; lines (and UTF-8 sequences) may be
// split across chunk boundaries, so the decoder buffers the trailing partial
// line between reads and only emits events for complete lines.
package stream

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const dataPrefix = "data: "

const readChunkSize = 4096

// Decoder turns a response body into a sequence of parsed events. It is not
// restartable: once the underlying stream ends, a new request must be issued.
type Decoder struct {
	r       io.Reader
	scratch []byte
	buf     strings.Builder
	pending []Event
	done    bool
}

// NewDecoder wraps a response body. The UTF-8 decoding transform tolerates
// multi-byte sequences split across chunk reads.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       transform.NewReader(r, unicode.UTF8.NewDecoder()),
		scratch: make([]byte, readChunkSize),
	}
}

// Next returns the next decoded event. It returns io.EOF when the stream is
// exhausted, and any transport read error verbatim; both are final. Malformed
// or non-JSON lines are skipped, never returned as errors.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.done {
			return Event{}, io.EOF
		}

		n, err := d.r.Read(d.scratch)
		if n > 0 {
			d.buf.Write(d.scratch[:n])
			d.drainCompleteLines()
		}
		if err != nil {
			d.done = true
			if errors.Is(err, io.EOF) {
				d.flushTail()
				continue
			}
			// Transport failure: events already decoded from buffered data
			// were surfaced on earlier calls; nothing more is recoverable.
			return Event{}, err
		}
	}
}

// drainCompleteLines splits the buffer on newlines, parses every complete
// line, and retains the final fragment as the new buffer since it may be an
// incomplete line.
func (d *Decoder) drainCompleteLines() {
	content := d.buf.String()
	if !strings.Contains(content, "\n") {
		return
	}
	parts := strings.Split(content, "\n")
	d.buf.Reset()
	d.buf.WriteString(parts[len(parts)-1])

	for _, line := range parts[:len(parts)-1] {
		if ev, ok := d.parseLine(line); ok {
			d.pending = append(d.pending, ev)
		}
	}
}

// flushTail attempts one final parse of whatever is left in the buffer after
// the stream ends. Failures are discarded; there is no further chance to
// complete a partial line.
func (d *Decoder) flushTail() {
	tail := d.buf.String()
	d.buf.Reset()
	if ev, ok := d.parseLine(tail); ok {
		d.pending = append(d.pending, ev)
	}
}

// parseLine recognizes "data: "-prefixed SSE lines and bare JSON objects.
// Anything else is an out-of-band transport log line, skipped silently. A JSON
// parse failure on a recognized line is logged and skipped; it never aborts
// the stream.
func (d *Decoder) parseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	switch {
	case strings.HasPrefix(line, dataPrefix):
		line = strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	case strings.HasPrefix(line, "{"):
	default:
		return Event{}, false
	}

	ev, err := ParseEvent([]byte(line))
	if err != nil {
		slog.Warn("skipping malformed stream line", "error", err, "line_len", len(line))
		return Event{}, false
	}
	if ev.Kind == KindUnknown {
		slog.Warn("unknown stream event shape", "line_len", len(line))
	}
	return ev, true
}
