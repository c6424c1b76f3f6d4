package archive

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressionLevel represents supported compression level
type CompressionLevel int

const (
	DefaultCompression CompressionLevel = iota
	BestSpeed
	BestCompression
	NoCompression
)

var levelNames = map[CompressionLevel]string{
	DefaultCompression: "default",
	BestSpeed:          "speed",
	BestCompression:    "best",
	NoCompression:      "none",
}

func (l CompressionLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("CompressionLevel(%d)", int(l))
}

// ParseCompressionLevel accepts "default", "speed", "best", "none" and the
// empty string, which means default.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultCompression, nil
	}
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return DefaultCompression, fmt.Errorf("unknown compression level %q", s)
}

// UnmarshalText lets the level be set from configuration files.
func (l *CompressionLevel) UnmarshalText(text []byte) error {
	v, err := ParseCompressionLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func (l CompressionLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Compressed reports whether data is written through gzip.
func (l CompressionLevel) Compressed() bool { return l != NoCompression }

func gzipLevel(l CompressionLevel) int {
	switch l {
	case BestSpeed:
		return gzip.BestSpeed
	case BestCompression:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}
