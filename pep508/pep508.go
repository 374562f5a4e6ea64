// Package pep508 exposes PEP 508 dependency specifications ("name[extra]
// (>=1,<2); marker") as spindle's wire-level representation, built on top of
// the version package's specifier and marker-expression parser.
//
// The parser itself lives in version.ParseDependency: Requires-Dist lines
// and Python version specifiers share the same PEP 440 comparison operators,
// so keeping the grammar in one package avoids two competing
// implementations of the same "version_cmp" production drifting apart.
package pep508

import (
	"github.com/spindle-dev/spindle/version"
)

// Dependency is a parsed PEP 508 dependency specification.
type Dependency struct {
	DistributionName string
	Extras           []string
	Versions         []version.Requirement

	raw *version.Dependency
}

// Parse parses a single PEP 508 dependency line.
func Parse(line string) (*Dependency, error) {
	d, err := version.ParseDependency(line)
	if err != nil {
		return nil, err
	}
	return &Dependency{
		DistributionName: d.Name,
		Extras:           d.Extras,
		Versions:         d.Versions,
		raw:              d,
	}, nil
}

// Environment supplies the marker variables ("python_version", "os_name",
// "extra", ...) a dependency's marker expression is evaluated against. It
// mirrors version.Env so any type satisfying one satisfies the other.
type Environment interface {
	Get(key string) (string, error)
}

// MapEnvironment is the simplest Environment: a plain lookup table. Callers
// that already hold an internal/python.Interpreter build one via
// internal/python's MarkerEnvironment helper.
type MapEnvironment map[string]string

func (m MapEnvironment) Get(key string) (string, error) {
	return m[key], nil
}

// Evaluate reports whether the dependency should be installed given env,
// honoring both its marker expression and its extras gate, which is checked
// against env's "extra" value.
func (d *Dependency) Evaluate(env Environment) (bool, error) {
	return d.raw.Evaluate(env)
}

// Satisfies reports whether v meets every version constraint attached to the
// dependency line (ignoring markers).
func (d *Dependency) Satisfies(v version.Version) bool {
	for _, req := range d.Versions {
		if !req.Contains(v) {
			return false
		}
	}
	return true
}
