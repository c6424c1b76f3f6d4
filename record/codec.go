package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// separator goes between two consecutive records of a stream.
var separator = []byte("\n\n")

// ParseError reports archive bytes that do not decode into a valid record.
// Err is the underlying decompression or JSON diagnostic.
type ParseError struct {
	// Record is the zero-based position of the failing record in its stream.
	Record int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing archive record %d: %v", e.Record, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type envelope struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

type outEnvelope struct {
	Type  Kind   `json:"type"`
	Value Record `json:"value"`
}

// Encode returns the pretty-printed JSON form of r, without separator.
func Encode(r Record) ([]byte, error) {
	if err := validate(r); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outEnvelope{Type: r.Kind(), Value: r}); err != nil {
		return nil, fmt.Errorf("encoding %s record for %q: %w", r.Kind(), r.IndexName(), err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a single record. Numbers are kept as json.Number.
func Decode(data []byte) (Record, error) {
	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return nil, &ParseError{Err: err}
	}

	r, err := fromEnvelope(env)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return r, nil
}

func validate(r Record) error {
	switch v := r.(type) {
	case *IndexRecord:
		if v == nil || v.Index == "" {
			return errors.New("index record without index name")
		}
	case *DocumentRecord:
		if v == nil || v.Index == "" {
			return errors.New("document record without index name")
		}
	default:
		return fmt.Errorf("unsupported record %T", r)
	}
	return nil
}

func fromEnvelope(env envelope) (Record, error) {
	if len(env.Value) == 0 || bytes.Equal(env.Value, []byte("null")) {
		return nil, fmt.Errorf("%q record has no value", env.Type)
	}

	var r Record
	switch env.Type {
	case KindIndex:
		r = &IndexRecord{}
	case KindDocument:
		r = &DocumentRecord{}
	default:
		return nil, fmt.Errorf("unknown record type %q", env.Type)
	}

	if err := unmarshal(env.Value, r); err != nil {
		return nil, fmt.Errorf("%s record: %w", env.Type, err)
	}
	if err := validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshal(data []byte, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return io.ErrUnexpectedEOF
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after record")
	}
	return nil
}

// Encoder writes records to a stream in archive format.
type Encoder struct {
	w     io.Writer
	count int
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes r, preceded by a separator unless it is the first record.
func (e *Encoder) Encode(r Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	if e.count > 0 {
		if _, err := e.w.Write(separator); err != nil {
			return fmt.Errorf("writing record separator: %w", err)
		}
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing %s record for %q: %w", r.Kind(), r.IndexName(), err)
	}
	e.count++
	return nil
}

// Count is the number of records written so far.
func (e *Encoder) Count() int { return e.count }

// Decoder reads records from a stream in archive format, one at a time.
type Decoder struct {
	dec   *json.Decoder
	count int
	err   error
}

func NewDecoder(r io.Reader) *Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Decoder{dec: dec}
}

// Decode returns the next record, io.EOF once the stream ended cleanly, or a
// *ParseError. After an error every further call returns the same error.
func (d *Decoder) Decode() (Record, error) {
	if d.err != nil {
		return nil, d.err
	}

	var env envelope
	if err := d.dec.Decode(&env); err != nil {
		if err == io.EOF {
			d.err = io.EOF
		} else {
			d.err = &ParseError{Record: d.count, Err: err}
		}
		return nil, d.err
	}

	r, err := fromEnvelope(env)
	if err != nil {
		d.err = &ParseError{Record: d.count, Err: err}
		return nil, d.err
	}
	d.count++
	return r, nil
}
