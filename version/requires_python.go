package version

import "strings"

// RequiresPython is the intersection of a PEP 440 specifier set declared by
// a project or script's `requires-python` metadata. Lower holds the
// tightest `>=`/`==`/`~=` lower bound discovered among Specifiers, if any,
// so interpreter discovery can cheaply reject obviously-too-old candidates
// before evaluating the full set.
type RequiresPython struct {
	Lower      *Version
	Specifiers []Requirement
}

// ParseRequiresPython parses a comma-separated PEP 440 specifier set such as
// ">=3.8,<3.13".
func ParseRequiresPython(spec string) (RequiresPython, error) {
	rp := RequiresPython{}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return rp, nil
	}

	reqs, err := ParseVersionRequirements(spec)
	if err != nil {
		return RequiresPython{}, err
	}

	rp.Specifiers = reqs
	for _, req := range reqs {
		rp.updateLower(req)
	}

	return rp, nil
}

func (rp *RequiresPython) updateLower(req Requirement) {
	switch req.Operator {
	case GreaterOrEqual, Greater, CompatibleEqual, Equal, TripleEqual:
		if rp.Lower == nil || Compare(req.Version, *rp.Lower) > 0 {
			v := req.Version
			rp.Lower = &v
		}
	}
}

// Contains reports whether v satisfies every specifier in the set. Contains
// is monotone: tightening Specifiers (adding more of them) never admits a
// previously-rejected version, since every specifier must individually
// agree.
func (rp RequiresPython) Contains(v Version) bool {
	for _, req := range rp.Specifiers {
		if !req.Contains(v) {
			return false
		}
	}
	return true
}

// String renders the specifier set back into PEP 440 syntax.
func (rp RequiresPython) String() string {
	parts := make([]string, len(rp.Specifiers))
	for i, req := range rp.Specifiers {
		parts[i] = req.Operator + req.Version.Canonical()
	}
	return strings.Join(parts, ",")
}
