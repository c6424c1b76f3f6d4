package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	cases := map[string]struct {
		bucket, prefix string
	}{
		"s3://backups":                    {"backups", ""},
		"s3://backups/":                   {"backups", ""},
		"s3://backups/es/2026-10-19":      {"backups", "es/2026-10-19"},
		"s3://backups/es/2026-10-19/":     {"backups", "es/2026-10-19"},
		"s3://backups//nested//prefix///": {"backups", "nested//prefix"},
	}
	for raw, want := range cases {
		bucket, prefix, err := ParseURL(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want.bucket, bucket, raw)
		assert.Equal(t, want.prefix, prefix, raw)
	}

	for _, raw := range []string{"/tmp/archive", "s3:///no-bucket", "gs://bucket/prefix", "://"} {
		_, _, err := ParseURL(raw)
		assert.Error(t, err, raw)
	}
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("s3://bucket/prefix"))
	assert.False(t, IsURL("archives/s3"))
	assert.False(t, IsURL("./s3://x"))
}

func TestBucketKey(t *testing.T) {
	assert.Equal(t, "mappings.json", New(nil, "b", "").key("mappings.json"))
	assert.Equal(t, "es/daily/data.json.gz", New(nil, "b", "/es/daily/").key("data.json.gz"))
}
