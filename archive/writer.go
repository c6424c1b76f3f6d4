package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
)

// WriteOptions configures how records are written.
type WriteOptions struct {
	Compression CompressionLevel
}

// Writer encodes records onto a byte sink, compressing them unless the level
// is NoCompression. Close must be called to flush; it does not close the
// sink.
type Writer struct {
	gzw     *gzip.Writer
	enc     *record.Encoder
	counter *sizeCounter
}

func NewWriter(w io.Writer, opts WriteOptions) (*Writer, error) {
	counter := &sizeCounter{wr: w}
	x := &Writer{counter: counter}

	if !opts.Compression.Compressed() {
		x.enc = record.NewEncoder(counter)
		return x, nil
	}

	gzw, err := gzip.NewWriterLevel(counter, gzipLevel(opts.Compression))
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	x.gzw = gzw
	x.enc = record.NewEncoder(gzw)
	return x, nil
}

func (x *Writer) Write(r record.Record) error { return x.enc.Encode(r) }

// Close flushes buffered data and writes the gzip trailer.
func (x *Writer) Close() error {
	if x.gzw == nil {
		return nil
	}
	if err := x.gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}
	return nil
}

// Records is the number of records written.
func (x *Writer) Records() int { return x.enc.Count() }

// Size is the number of bytes handed to the sink so far.
func (x *Writer) Size() int64 { return x.counter.wroteSize }

type sizeCounter struct {
	wr        io.Writer
	wroteSize int64
}

func (x *sizeCounter) Write(p []byte) (int, error) {
	n, err := x.wr.Write(p)
	x.wroteSize += int64(n)
	return n, err
}

// Write consumes in until it is closed and writes every record to w. It
// returns as soon as ctx is done or a record fails to encode. The compressor
// is flushed only when in was fully consumed.
func Write(ctx context.Context, w io.Writer, in <-chan record.Record, opts WriteOptions) error {
	x, err := NewWriter(w, opts)
	if err != nil {
		return err
	}

	for {
		r, ok, err := stream.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := x.Write(r); err != nil {
			return err
		}
	}

	return x.Close()
}
