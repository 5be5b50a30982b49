// Package source provides sample block sources for channels: recorded
// baseband files and the synthetic generator.
package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/star/gnssacq/internal/synth"
)

// Format is the on-disk sample encoding.
type Format string

const (
	GrComplex Format = "gr_complex" // interleaved little-endian float32 I/Q
	IShort    Format = "ishort"     // interleaved little-endian int16 I/Q
	IByte     Format = "ibyte"      // interleaved int8 I/Q
)

var ErrUnknownFormat = errors.New("unknown sample format")

func (f Format) sampleBytes() (int, error) {
	switch f {
	case GrComplex:
		return 8, nil
	case IShort:
		return 4, nil
	case IByte:
		return 2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

// FileSource reads blocks from a recorded file. It is safe for concurrent
// ReadBlock calls; each call receives a distinct contiguous block.
type FileSource struct {
	mu     sync.Mutex
	f      *os.File
	r      *bufio.Reader
	format Format
	size   int
	loop   bool
	raw    []byte
}

// NewFileSource opens path. With loop set the file is replayed from the
// start at end of file instead of returning io.EOF.
func NewFileSource(path string, format Format, loop bool) (*FileSource, error) {
	size, err := format.sampleBytes()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sample file: %w", err)
	}
	return &FileSource{f: f, r: bufio.NewReaderSize(f, 1<<20), format: format, size: size, loop: loop}, nil
}

// Close releases the file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// ReadBlock fills dst with the next len(dst) samples.
func (s *FileSource) ReadBlock(ctx context.Context, dst []complex64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	need := len(dst) * s.size
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.r, raw)
	for err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("reading samples: %w", err)
		}
		if !s.loop {
			return io.EOF
		}
		if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
			return fmt.Errorf("rewinding sample file: %w", serr)
		}
		s.r.Reset(s.f)

		var m int
		m, err = io.ReadFull(s.r, raw[n:])
		if m == 0 && err != nil {
			return io.EOF // empty file
		}
		n += m
	}

	decode(dst, raw, s.format)
	return nil
}

func decode(dst []complex64, raw []byte, format Format) {
	switch format {
	case GrComplex:
		for i := range dst {
			re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
			dst[i] = complex(re, im)
		}
	case IShort:
		for i := range dst {
			re := int16(binary.LittleEndian.Uint16(raw[4*i:]))
			im := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
			dst[i] = complex(float32(re), float32(im))
		}
	case IByte:
		for i := range dst {
			dst[i] = complex(float32(int8(raw[2*i])), float32(int8(raw[2*i+1])))
		}
	}
}

// WriteGrComplex encodes samples in the gr_complex layout.
func WriteGrComplex(w io.Writer, samples []complex64) error {
	buf := make([]byte, 8*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[8*i:], math.Float32bits(real(v)))
		binary.LittleEndian.PutUint32(buf[8*i+4:], math.Float32bits(imag(v)))
	}
	_, err := w.Write(buf)
	return err
}

// SynthSource serves an endless synthetic stream.
type SynthSource struct {
	mu  sync.Mutex
	gen *synth.Generator
}

// NewSynthSource wraps a generator.
func NewSynthSource(gen *synth.Generator) *SynthSource {
	return &SynthSource{gen: gen}
}

// ReadBlock fills dst with the next samples of the stream.
func (s *SynthSource) ReadBlock(ctx context.Context, dst []complex64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.Fill(dst)
	return nil
}
