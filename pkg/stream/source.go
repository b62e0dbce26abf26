package stream

import (
	"context"
	"io"
)

// Response is what a transport hands back when asked for a completion stream.
type Response struct {
	OK           bool
	StatusCode   int
	Body         io.ReadCloser
	ErrorPayload string
}

// Chunk is one read from the network. Done is set once the source is exhausted,
// Data may still hold the final bytes.
type Chunk struct {
	Data []byte
	Done bool
}

type Source interface {
	Next(ctx context.Context) (Chunk, error)
}

const defaultChunkSize = 4096

// ReaderSource reads chunks from an io.Reader.
type ReaderSource struct {
	r   io.Reader
	buf []byte
	eof bool
}

var _ Source = (*ReaderSource)(nil)

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, buf: make([]byte, defaultChunkSize)}
}

func (s *ReaderSource) Next(ctx context.Context) (Chunk, error) {
	if s.eof {
		return Chunk{Done: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	n, err := s.r.Read(s.buf)
	data := make([]byte, n)
	copy(data, s.buf[:n])

	switch {
	case err == io.EOF:
		s.eof = true
		return Chunk{Data: data, Done: true}, nil
	case err != nil:
		return Chunk{Data: data}, err
	}
	return Chunk{Data: data}, nil
}
