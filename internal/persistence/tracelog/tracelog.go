// Package tracelog writes one JSON line per simulated round into a
// zstd-compressed file and reads such files back for replay and inspection.
package tracelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/stats"
)

// Entry is one traced round.
type Entry struct {
	RunID    string              `json:"run_id"`
	Snapshot core.Snapshot       `json:"snapshot"`
	Stats    *stats.RoundSummary `json:"stats,omitempty"`
}

// Writer appends entries to a .jsonl.zst file. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// Create opens path for writing, truncating an existing file.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, enc: enc, w: bufio.NewWriterSize(enc, 64*1024)}, nil
}

// Write appends e as one line.
func (w *Writer) Write(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return os.ErrClosed
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Close flushes buffered entries and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	var errs []error
	errs = append(errs, w.w.Flush())
	errs = append(errs, w.enc.Close())
	errs = append(errs, w.f.Close())
	w.w, w.enc, w.f = nil, nil, nil
	return errors.Join(errs...)
}

// Reader decodes entries from a trace file.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
	sc  *bufio.Scanner
}

// Open opens the trace at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{f: f, dec: dec, sc: sc}, nil
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (Entry, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return Entry{}, err
		}
		return Entry{}, io.EOF
	}
	var e Entry
	if err := json.Unmarshal(r.sc.Bytes(), &e); err != nil {
		return Entry{}, fmt.Errorf("decode trace entry: %w", err)
	}
	return e, nil
}

func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}

// ReadAll decodes every entry of the trace at path.
func ReadAll(path string) ([]Entry, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
