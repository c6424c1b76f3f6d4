package archive

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Reader decodes records from a byte source. Gzip input is detected from the
// first bytes, so archives written with or without compression are both
// readable.
type Reader struct {
	gzr *gzip.Reader
	dec *record.Decoder
}

// NewReader returns a *record.ParseError when the source looks like gzip
// but has an invalid header.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &record.ParseError{Err: err}
	}

	x := &Reader{}
	if len(head) == len(gzipMagic) && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, &record.ParseError{Err: err}
		}
		x.gzr = gzr
		x.dec = record.NewDecoder(gzr)
		return x, nil
	}

	x.dec = record.NewDecoder(br)
	return x, nil
}

// Read returns the next record or io.EOF.
func (x *Reader) Read() (record.Record, error) { return x.dec.Decode() }

func (x *Reader) Close() error {
	if x.gzr != nil {
		return x.gzr.Close()
	}
	return nil
}

// Read decodes r and sends every record to out, closing out at the end of
// the input. Records are decoded one at a time as out accepts them. A
// decoding failure ends the stream with a *record.ParseError; no partially
// decoded record is ever sent.
func Read(ctx context.Context, r io.Reader, out chan<- record.Record) error {
	if err := readInto(ctx, r, out); err != nil {
		return err
	}
	close(out)
	return nil
}

func readInto(ctx context.Context, r io.Reader, out chan<- record.Record) error {
	x, err := NewReader(r)
	if err != nil {
		return err
	}
	defer x.Close()

	for {
		rec, err := x.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.Send(ctx, out, rec); err != nil {
			return err
		}
	}
}
