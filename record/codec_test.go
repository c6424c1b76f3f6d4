package record_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurakura967/go-elasticsearch-archiver/record"
)

func sampleRecords() []record.Record {
	return []record.Record{
		&record.IndexRecord{
			Index: "users",
			Settings: map[string]interface{}{
				"index": map[string]interface{}{
					"number_of_shards":   "1",
					"number_of_replicas": "0",
				},
			},
			Mappings: map[string]interface{}{
				"properties": map[string]interface{}{
					"email": map[string]interface{}{"type": "keyword"},
				},
			},
			Aliases: map[string]interface{}{
				"people": map[string]interface{}{},
			},
		},
		&record.DocumentRecord{
			Index: "users",
			ID:    "1",
			Source: map[string]interface{}{
				"name":   "Alice <alice@example.com>",
				"age":    json.Number("30"),
				"score":  json.Number("9007199254740993"),
				"active": true,
				"tags":   []interface{}{"a", "b"},
			},
		},
		&record.DocumentRecord{
			Index:  "users",
			Type:   "_doc",
			ID:     "2",
			Source: map[string]interface{}{"name": "Bob"},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, r := range sampleRecords() {
		data, err := record.Encode(r)
		require.NoError(t, err)

		got, err := record.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestEncode_Format(t *testing.T) {
	data, err := record.Encode(&record.DocumentRecord{
		Index:  "users",
		ID:     "1",
		Source: map[string]interface{}{"name": "<b>"},
	})
	require.NoError(t, err)

	expected := `{
  "type": "doc",
  "value": {
    "index": "users",
    "id": "1",
    "source": {
      "name": "<b>"
    }
  }
}`
	assert.Equal(t, expected, string(data))
}

func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := record.Encode(&record.IndexRecord{})
	assert.Error(t, err)

	_, err = record.Encode(&record.DocumentRecord{ID: "1"})
	assert.Error(t, err)

	_, err = record.Encode(nil)
	assert.Error(t, err)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"whitespace":    "  \n",
		"malformed":     `{"type": "index", "value": {`,
		"unknown type":  `{"type": "template", "value": {"index": "x"}}`,
		"missing value": `{"type": "index"}`,
		"null value":    `{"type": "doc", "value": null}`,
		"no index":      `{"type": "doc", "value": {"id": "1"}}`,
		"trailing":      `{"type": "doc", "value": {"index": "a"}} {}`,
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			r, err := record.Decode([]byte(input))
			assert.Nil(t, r)

			var perr *record.ParseError
			require.ErrorAs(t, err, &perr)
			assert.NotEmpty(t, perr.Error())
		})
	}
}

func TestEncoderDecoder_Stream(t *testing.T) {
	var buf bytes.Buffer
	enc := record.NewEncoder(&buf)
	records := sampleRecords()
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
	assert.Equal(t, len(records), enc.Count())
	assert.Equal(t, 2, strings.Count(buf.String(), "}\n\n{"))

	dec := record.NewDecoder(&buf)
	var got []record.Record
	for {
		r, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, r)
	}
	assert.Equal(t, records, got)
}

func TestDecoder_EmptyStream(t *testing.T) {
	dec := record.NewDecoder(strings.NewReader(""))
	_, err := dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_TruncatedStream(t *testing.T) {
	data, err := record.Encode(sampleRecords()[0])
	require.NoError(t, err)

	dec := record.NewDecoder(bytes.NewReader(data[:len(data)/2]))
	r, err := dec.Decode()
	assert.Nil(t, r)

	var perr *record.ParseError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, again := dec.Decode()
	assert.Same(t, perr, again)
}
