// Package streams converts provider-native incremental responses into one
// canonical chunk stream. Each provider speaks its own wire framing (SSE
// envelopes with provider-specific fields, or newline-delimited JSON); a
// FrameTranslator per provider turns complete framing units into canonical
// chunks, and the Stream handles buffering, reassembly and the terminal
// guarantee.
package streams

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/stratoroute/model-broker/internal/types"
)

// Framing identifies how a provider delimits stream units.
type Framing int

const (
	// FramingSSE delimits units with blank lines (Server-Sent Events).
	FramingSSE Framing = iota
	// FramingNDJSON delimits units with single newlines.
	FramingNDJSON
)

// FrameTranslator parses one complete framing unit.
//
// Translate returns (nil, false, nil) for units carrying nothing
// user-visible (keep-alives, metadata events), (chunk, false, nil) for
// content or terminal chunks, and (_, true, nil) when the unit is the
// provider's explicit end-of-stream signal. Parse failures return a
// MalformedFrameError; the stream skips those units.
type FrameTranslator interface {
	Provider() string
	Framing() Framing
	Translate(frame []byte) (*types.StreamChunk, bool, error)
}

const readBufferSize = 4096

// readBufPool recycles transport read buffers across streams.
var readBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, readBufferSize)
		return &buf
	},
}

// Stream is a pull-based normalizer over one provider response body.
// Consumers call Next until io.EOF and must Close to release the transport.
type Stream struct {
	r          io.ReadCloser
	translator FrameTranslator

	requestID string
	model     string

	carry    []byte   // incomplete framing unit retained across reads
	frames   [][]byte // complete units not yet translated
	eof      bool     // transport exhausted
	terminal bool     // terminal chunk already emitted
	done     bool     // io.EOF already returned
	closed   bool
	skipped  int
}

// NewStream wraps a provider response body. requestID and model seed the
// synthesized terminal chunk when the transport closes without an explicit
// terminal signal.
func NewStream(r io.ReadCloser, translator FrameTranslator, requestID, model string) *Stream {
	return &Stream{
		r:          r,
		translator: translator,
		requestID:  requestID,
		model:      model,
	}
}

// Next returns the next canonical chunk. Chunk order is exactly the order
// received from the provider; no reordering or buffering happens beyond
// framing reassembly. After the terminal chunk, Next returns io.EOF.
func (s *Stream) Next() (*types.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		for len(s.frames) > 0 {
			frame := s.frames[0]
			s.frames = s.frames[1:]

			chunk, end, err := s.translator.Translate(frame)
			if err != nil {
				// Malformed units are skipped, never fatal.
				s.skipped++
				continue
			}
			if end {
				return s.finish()
			}
			if chunk == nil {
				continue
			}
			if chunk.Terminal() {
				if s.terminal {
					continue
				}
				s.terminal = true
				s.fill(chunk)
				return chunk, nil
			}
			if s.terminal {
				// Nothing user-visible may follow the terminal chunk.
				continue
			}
			s.fill(chunk)
			return chunk, nil
		}

		if s.eof {
			return s.finish()
		}
		if err := s.read(); err != nil {
			return nil, err
		}
	}
}

// Close releases the underlying transport reader. Safe to call more than
// once and safe to call while a consumer has stopped reading early.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.r.Close()
}

// Skipped reports how many malformed framing units were dropped.
func (s *Stream) Skipped() int { return s.skipped }

// read pulls more bytes from the transport and splits off complete frames.
func (s *Stream) read() error {
	bufp := readBufPool.Get().(*[]byte)
	defer readBufPool.Put(bufp)
	buf := *bufp

	n, err := s.r.Read(buf)
	if n > 0 {
		s.carry = append(s.carry, buf[:n]...)
		s.splitFrames()
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
			// A trailing unit without its delimiter still counts.
			if rest := bytes.TrimSpace(s.carry); len(rest) > 0 {
				s.frames = append(s.frames, rest)
			}
			s.carry = nil
			return nil
		}
		return err
	}
	return nil
}

// splitFrames moves complete framing units from the carry-over buffer to the
// frame queue.
func (s *Stream) splitFrames() {
	var sep []byte
	switch s.translator.Framing() {
	case FramingNDJSON:
		sep = []byte("\n")
	default:
		sep = []byte("\n\n")
	}

	for {
		// SSE frames may use \r\n\r\n; normalize before splitting.
		if s.translator.Framing() == FramingSSE {
			s.carry = bytes.ReplaceAll(s.carry, []byte("\r\n"), []byte("\n"))
		}
		idx := bytes.Index(s.carry, sep)
		if idx < 0 {
			return
		}
		frame := bytes.TrimSpace(s.carry[:idx])
		s.carry = s.carry[idx+len(sep):]
		if len(frame) > 0 {
			s.frames = append(s.frames, frame)
		}
	}
}

// finish guarantees exactly one terminal chunk per stream: if the provider
// never sent an explicit terminal signal, one is synthesized with
// finish_reason "stop".
func (s *Stream) finish() (*types.StreamChunk, error) {
	if s.terminal {
		s.done = true
		return nil, io.EOF
	}
	s.terminal = true
	return &types.StreamChunk{
		ID:      s.requestID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []types.ChoiceChunk{{Index: 0, FinishReason: "stop"}},
	}, nil
}

// fill backfills canonical envelope fields translators may not know.
func (s *Stream) fill(chunk *types.StreamChunk) {
	if chunk.ID == "" {
		chunk.ID = s.requestID
	}
	if chunk.Model == "" {
		chunk.Model = s.model
	}
	if chunk.Object == "" {
		chunk.Object = "chat.completion.chunk"
	}
	if chunk.Created == 0 {
		chunk.Created = time.Now().Unix()
	}
}
