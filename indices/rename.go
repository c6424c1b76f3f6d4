package indices

import "strings"

const (
	DefaultSystemPrefix    = ".internal_dashboard"
	DefaultCanonicalSystem = ".internal_dashboard_1"
)

// Renamer rewrites versioned system index names to one canonical name so a
// restored archive loads without a migration.
type Renamer struct {
	Prefix    string `yaml:"prefix"`
	Canonical string `yaml:"canonical"`
}

// DefaultRenamer is used when an options struct leaves its Renamer zero.
var DefaultRenamer = Renamer{Prefix: DefaultSystemPrefix, Canonical: DefaultCanonicalSystem}

// Rename returns Canonical for names starting with Prefix and name otherwise.
func (r Renamer) Rename(name string) string {
	if r.Prefix != "" && r.Canonical != "" && strings.HasPrefix(name, r.Prefix) {
		return r.Canonical
	}
	return name
}

// IsZero reports whether r was left unset.
func (r Renamer) IsZero() bool { return r == Renamer{} }
