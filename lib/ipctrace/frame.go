// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipctrace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/horizon-userland/horizon/lib/codec"
)

// Magic opens every capture file.
var Magic = [8]byte{'H', 'Z', 'N', 'T', 'R', 'C', 0, 1}

// DefaultFrameRecords is how many records a frame holds before the
// Writer flushes it.
const DefaultFrameRecords = 64

// maxFrameSize bounds the payload sizes a Reader accepts.
const maxFrameSize = 64 << 20

const frameHeaderSize = 1 + 4 + 4 + 32

// ErrCorrupt is returned for a frame whose digest does not match its
// payload.
var ErrCorrupt = errors.New("ipctrace: corrupt frame")

// ErrNotTrace is returned by NewReader when the input does not start
// with Magic.
var ErrNotTrace = errors.New("ipctrace: not a capture file")

var frameDomainKey = [32]byte{
	'h', 'o', 'r', 'i', 'z', 'o', 'n', '.', 'i', 'p', 'c', 't', 'r', 'a', 'c', 'e',
	'.', 'f', 'r', 'a', 'm', 'e',
}

func digest(payload []byte) [32]byte {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		panic("ipctrace: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Compression Compression

	// FrameRecords defaults to DefaultFrameRecords.
	FrameRecords int
}

// Writer batches records into frames. It is safe for concurrent use.
type Writer struct {
	options WriterOptions

	mu      sync.Mutex
	w       io.Writer
	batch   bytes.Buffer
	encoder *codec.Encoder
	pending int
	frames  int
	records int
	closed  bool
}

// NewWriter writes the file magic to w and returns a Writer.
func NewWriter(w io.Writer, options WriterOptions) (*Writer, error) {
	if options.FrameRecords <= 0 {
		options.FrameRecords = DefaultFrameRecords
	}
	if options.Compression > CompressionZstd {
		return nil, fmt.Errorf("ipctrace: unsupported compression %v", options.Compression)
	}
	if _, err := w.Write(Magic[:]); err != nil {
		return nil, fmt.Errorf("ipctrace: writing magic: %w", err)
	}
	writer := &Writer{options: options, w: w}
	writer.encoder = codec.NewEncoder(&writer.batch)
	return writer, nil
}

// Write appends a record, flushing a frame when the batch is full.
func (w *Writer) Write(record Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("ipctrace: write to closed writer")
	}
	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("ipctrace: encoding record %d: %w", record.Sequence, err)
	}
	w.pending++
	w.records++
	if w.pending >= w.options.FrameRecords {
		return w.flushLocked()
	}
	return nil
}

// Flush writes any batched records as a frame.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.pending == 0 {
		return nil
	}
	payload := w.batch.Bytes()
	tag := w.options.Compression
	stored, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		tag, stored, err = CompressionNone, payload, nil
	}
	if err != nil {
		return fmt.Errorf("ipctrace: compressing frame: %w", err)
	}

	var header [frameHeaderSize]byte
	header[0] = byte(tag)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[5:], uint32(len(stored)))
	sum := digest(payload)
	copy(header[9:], sum[:])

	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("ipctrace: writing frame header: %w", err)
	}
	if _, err := w.w.Write(stored); err != nil {
		return fmt.Errorf("ipctrace: writing frame: %w", err)
	}
	w.batch.Reset()
	w.pending = 0
	w.frames++
	return nil
}

// Close flushes the last frame. It does not close the underlying
// writer. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushLocked()
}

// Stats returns the number of frames written and records accepted.
func (w *Writer) Stats() (frames, records int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.records
}

// Reader reads records back from a capture file.
type Reader struct {
	r       *bufio.Reader
	frame   int
	pending []Record
}

// NewReader checks the file magic and returns a Reader.
func NewReader(r io.Reader) (*Reader, error) {
	buffered := bufio.NewReader(r)
	var magic [len(Magic)]byte
	if _, err := io.ReadFull(buffered, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotTrace
		}
		return nil, fmt.Errorf("ipctrace: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, ErrNotTrace
	}
	return &Reader{r: buffered}, nil
}

// Next returns the next record, or io.EOF after the last one. A file
// that ends inside a frame returns io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	for len(r.pending) == 0 {
		if err := r.readFrame(); err != nil {
			return Record{}, err
		}
	}
	record := r.pending[0]
	r.pending = r.pending[1:]
	return record, nil
}

func (r *Reader) readFrame() error {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("ipctrace: frame %d header: %w", r.frame, err)
	}
	tag := Compression(header[0])
	size := binary.LittleEndian.Uint32(header[1:])
	storedSize := binary.LittleEndian.Uint32(header[5:])
	if size > maxFrameSize || storedSize > maxFrameSize {
		return fmt.Errorf("ipctrace: frame %d is %d bytes: %w", r.frame, max(size, storedSize), ErrCorrupt)
	}

	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r.r, stored); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("ipctrace: frame %d payload: %w", r.frame, err)
	}
	payload, err := decompress(stored, tag, int(size))
	if err != nil {
		return fmt.Errorf("ipctrace: frame %d: %w: %w", r.frame, ErrCorrupt, err)
	}
	if digest(payload) != [32]byte(header[9:]) {
		return fmt.Errorf("ipctrace: frame %d digest mismatch: %w", r.frame, ErrCorrupt)
	}

	decoder := codec.NewDecoder(bytes.NewReader(payload))
	for {
		var record Record
		err := decoder.Decode(&record)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("ipctrace: frame %d record: %w: %w", r.frame, ErrCorrupt, err)
		}
		r.pending = append(r.pending, record)
	}
	r.frame++
	return nil
}

// ReadAll reads every record from a capture file.
func ReadAll(r io.Reader) ([]Record, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var records []Record
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}
