package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RangeParseError reports a malformed range expression, naming the
// offending token so callers can surface a precise diagnosis.
type RangeParseError struct {
	Text  string
	Token string
}

func (e *RangeParseError) Error() string {
	return fmt.Sprintf("invalid version range %q: bad token %q", e.Text, e.Token)
}

// endpoint is one side of an interval. Unbounded lo endpoints stand for
// -infinity, unbounded hi endpoints for +infinity.
type endpoint struct {
	version   Version
	unbounded bool
	inclusive bool
}

func negInf() endpoint { return endpoint{unbounded: true} }
func posInf() endpoint { return endpoint{unbounded: true} }

type interval struct {
	lo, hi endpoint
}

// Range is a union of intervals over the version-ordered set, with an
// auxiliary record of which (major,minor,patch) triples were explicitly
// opened to prereleases by a literal comparator in the text that built
// it. A Range is closed under Intersect/Union/Negate.
type Range struct {
	intervals []interval
	anchors   map[[3]uint64]bool
}

// ParseRange parses a cargo-compatible range expression: a comma
// separated list of comparators (exact, relational, tilde, caret, or
// wildcard), whose individual matches are intersected.
func ParseRange(text string) (Range, error) {
	terms := strings.Split(text, ",")
	result := fullRange()
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			return Range{}, &RangeParseError{Text: text, Token: term}
		}
		r, err := parseTerm(term)
		if err != nil {
			return Range{}, err
		}
		result = result.Intersect(r)
	}
	return result, nil
}

// fullRange is the range matching every stable version (no anchors, so
// no prerelease is admitted).
func fullRange() Range {
	return Range{intervals: []interval{{lo: negInf(), hi: posInf()}}, anchors: map[[3]uint64]bool{}}
}

// pointRange denotes exactly v: a degenerate closed interval whose
// precedence comparison covers the prerelease identifier too, so
// "=1.0.0-alpha" admits neither 1.0.0 nor 1.0.0-beta.
func pointRange(v Version, pre bool) Range {
	r := Range{
		intervals: []interval{{lo: endpoint{version: v, inclusive: true}, hi: endpoint{version: v, inclusive: true}}},
		anchors:   map[[3]uint64]bool{},
	}
	if pre {
		r.anchors[v.corePart()] = true
	}
	return r
}

func boundedRange(lo, hi endpoint, anchorOf Version, pre bool) Range {
	r := Range{intervals: []interval{{lo: lo, hi: hi}}, anchors: map[[3]uint64]bool{}}
	if pre {
		r.anchors[anchorOf.corePart()] = true
	}
	return r
}

var termRe = regexp.MustCompile(`^(=|>=|<=|>|<|~|\^)?\s*(\*|[0-9]+(\.(\*|[0-9]+)(\.(\*|[0-9]+)(-[0-9A-Za-z.-]+)?)?)?)$`)

func parseTerm(term string) (Range, error) {
	m := termRe.FindStringSubmatch(term)
	if m == nil {
		return Range{}, &RangeParseError{Text: term, Token: term}
	}
	op := m[1]
	body := m[2]

	if body == "*" {
		return fullRange(), nil
	}

	parts := strings.SplitN(body, "-", 2)
	nums := strings.Split(parts[0], ".")
	pre := ""
	if len(parts) == 2 {
		pre = parts[1]
	}

	wildcardTail := false
	comps := make([]uint64, 0, 3)
	for _, n := range nums {
		if n == "*" {
			wildcardTail = true
			continue
		}
		v, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return Range{}, &RangeParseError{Text: term, Token: n}
		}
		comps = append(comps, v)
	}
	var x, y, z uint64
	yGiven, zGiven := false, false
	if len(comps) > 0 {
		x = comps[0]
	}
	if len(comps) > 1 {
		y = comps[1]
		yGiven = true
	}
	if len(comps) > 2 {
		z = comps[2]
		zGiven = true
	}

	switch {
	case op == "" && wildcardTail, op == "=" && wildcardTail:
		// x.* or x.y.*
		if yGiven {
			return boundedRange(endpoint{version: versionAt(x, y, 0, ""), inclusive: true}, endpoint{version: versionAt(x, y+1, 0, ""), inclusive: false}, Version{}, false), nil
		}
		return boundedRange(endpoint{version: versionAt(x, 0, 0, ""), inclusive: true}, endpoint{version: versionAt(x+1, 0, 0, ""), inclusive: false}, Version{}, false), nil
	case op == "=":
		return parseExact(x, y, z, yGiven, zGiven, pre)
	case op == ">":
		return parseGreater(x, y, z, yGiven, zGiven, pre, false)
	case op == ">=":
		return parseGreater(x, y, z, yGiven, zGiven, pre, true)
	case op == "<":
		return parseLess(x, y, z, yGiven, zGiven, pre, false)
	case op == "<=":
		return parseLess(x, y, z, yGiven, zGiven, pre, true)
	case op == "~":
		return parseTilde(x, y, z, yGiven, zGiven, pre)
	case op == "^":
		return parseCaret(x, y, z, yGiven, zGiven, pre)
	default:
		// bare version defaults to caret, the cargo convention for an
		// unqualified dependency requirement.
		return parseCaret(x, y, z, yGiven, zGiven, pre)
	}
}

func versionAt(x, y, z uint64, pre string) Version {
	return fromMasterminds(mustBuild(x, y, z, pre))
}

func parseExact(x, y, z uint64, yGiven, zGiven bool, pre string) (Range, error) {
	switch {
	case zGiven:
		v := versionAt(x, y, z, pre)
		return pointRange(v, pre != ""), nil
	case yGiven:
		return boundedRange(endpoint{version: versionAt(x, y, 0, ""), inclusive: true}, endpoint{version: versionAt(x, y+1, 0, ""), inclusive: false}, Version{}, false), nil
	default:
		return boundedRange(endpoint{version: versionAt(x, 0, 0, ""), inclusive: true}, endpoint{version: versionAt(x+1, 0, 0, ""), inclusive: false}, Version{}, false), nil
	}
}

func parseGreater(x, y, z uint64, yGiven, zGiven bool, pre string, orEqual bool) (Range, error) {
	switch {
	case zGiven:
		v := versionAt(x, y, z, pre)
		if orEqual {
			return boundedRange(endpoint{version: v, inclusive: true}, posInf(), v, pre != ""), nil
		}
		return boundedRange(endpoint{version: v, inclusive: false}, posInf(), v, pre != ""), nil
	case yGiven:
		if orEqual {
			return boundedRange(endpoint{version: versionAt(x, y, 0, ""), inclusive: true}, posInf(), Version{}, false), nil
		}
		return boundedRange(endpoint{version: versionAt(x, y+1, 0, ""), inclusive: true}, posInf(), Version{}, false), nil
	default:
		if orEqual {
			return boundedRange(endpoint{version: versionAt(x, 0, 0, ""), inclusive: true}, posInf(), Version{}, false), nil
		}
		return boundedRange(endpoint{version: versionAt(x+1, 0, 0, ""), inclusive: true}, posInf(), Version{}, false), nil
	}
}

func parseLess(x, y, z uint64, yGiven, zGiven bool, pre string, orEqual bool) (Range, error) {
	switch {
	case zGiven:
		v := versionAt(x, y, z, pre)
		if orEqual {
			return boundedRange(negInf(), endpoint{version: v, inclusive: true}, v, pre != ""), nil
		}
		return boundedRange(negInf(), endpoint{version: v, inclusive: false}, v, pre != ""), nil
	case yGiven:
		if orEqual {
			return boundedRange(negInf(), endpoint{version: versionAt(x, y+1, 0, ""), inclusive: false}, Version{}, false), nil
		}
		return boundedRange(negInf(), endpoint{version: versionAt(x, y, 0, ""), inclusive: false}, Version{}, false), nil
	default:
		if orEqual {
			return boundedRange(negInf(), endpoint{version: versionAt(x+1, 0, 0, ""), inclusive: false}, Version{}, false), nil
		}
		return boundedRange(negInf(), endpoint{version: versionAt(x, 0, 0, ""), inclusive: false}, Version{}, false), nil
	}
}

func parseTilde(x, y, z uint64, yGiven, zGiven bool, pre string) (Range, error) {
	switch {
	case zGiven:
		v := versionAt(x, y, z, pre)
		return boundedRange(endpoint{version: v, inclusive: true}, endpoint{version: versionAt(x, y+1, 0, ""), inclusive: false}, v, pre != ""), nil
	case yGiven:
		return boundedRange(endpoint{version: versionAt(x, y, 0, ""), inclusive: true}, endpoint{version: versionAt(x, y+1, 0, ""), inclusive: false}, Version{}, false), nil
	default:
		return boundedRange(endpoint{version: versionAt(x, 0, 0, ""), inclusive: true}, endpoint{version: versionAt(x+1, 0, 0, ""), inclusive: false}, Version{}, false), nil
	}
}

// parseCaret implements the leftmost-nonzero-component stability rule:
// the range allows patch/minor bumps up to (but excluding) the next
// value of the leftmost nonzero component present in the requirement.
func parseCaret(x, y, z uint64, yGiven, zGiven bool, pre string) (Range, error) {
	lo := versionAt(x, y, z, pre)
	var hi Version
	switch {
	case x > 0:
		hi = versionAt(x+1, 0, 0, "")
	case yGiven && y > 0:
		hi = versionAt(0, y+1, 0, "")
	case zGiven:
		hi = versionAt(0, 0, z+1, "")
	case yGiven:
		hi = versionAt(0, 1, 0, "")
	default:
		hi = versionAt(1, 0, 0, "")
	}
	return boundedRange(endpoint{version: lo, inclusive: true}, endpoint{version: hi, inclusive: false}, lo, pre != ""), nil
}

// Matches reports whether v satisfies r: it falls within the union of
// intervals, and if v carries a prerelease, some comparator in the
// range's construction explicitly anchored that (major,minor,patch) to
// a prerelease.
func (r Range) Matches(v Version) bool {
	if !inUnion(r.intervals, v) {
		return false
	}
	if v.Prerelease() == "" {
		return true
	}
	return r.anchors[v.corePart()]
}

func inUnion(intervals []interval, v Version) bool {
	for _, iv := range intervals {
		if contains(iv, v) {
			return true
		}
	}
	return false
}

func contains(iv interval, v Version) bool {
	if !iv.lo.unbounded {
		c := v.Compare(iv.lo.version)
		if c < 0 || (c == 0 && !iv.lo.inclusive) {
			return false
		}
	}
	if !iv.hi.unbounded {
		c := v.Compare(iv.hi.version)
		if c > 0 || (c == 0 && !iv.hi.inclusive) {
			return false
		}
	}
	return true
}

// Intersect returns the range admitting exactly the versions both r and
// other admit.
func (r Range) Intersect(other Range) Range {
	out := make([]interval, 0, len(r.intervals)*len(other.intervals))
	for _, a := range r.intervals {
		for _, b := range other.intervals {
			if iv, ok := intersectInterval(a, b); ok {
				out = append(out, iv)
			}
		}
	}
	return Range{intervals: normalize(out), anchors: mergeAnchors(r.anchors, other.anchors)}
}

// Union returns the range admitting any version r or other admits.
func (r Range) Union(other Range) Range {
	out := make([]interval, 0, len(r.intervals)+len(other.intervals))
	out = append(out, r.intervals...)
	out = append(out, other.intervals...)
	return Range{intervals: normalize(out), anchors: mergeAnchors(r.anchors, other.anchors)}
}

// Negate returns the range admitting every version r does not.
// Prerelease anchoring is not inverted: the complement of a range is, by
// default, as conservative about prereleases as any other constructed
// range (it has no anchors unless explicitly reconstructed).
func (r Range) Negate() Range {
	sorted := normalize(r.intervals)
	out := make([]interval, 0, len(sorted)+1)
	cursor := negInf()
	for _, iv := range sorted {
		if !iv.lo.unbounded {
			gapHi := endpoint{version: iv.lo.version, inclusive: !iv.lo.inclusive}
			if validInterval(cursor, gapHi) {
				out = append(out, interval{lo: cursor, hi: gapHi})
			}
		}
		if iv.hi.unbounded {
			return Range{intervals: out, anchors: map[[3]uint64]bool{}}
		}
		cursor = endpoint{version: iv.hi.version, inclusive: !iv.hi.inclusive}
	}
	out = append(out, interval{lo: cursor, hi: posInf()})
	return Range{intervals: out, anchors: map[[3]uint64]bool{}}
}

// Bump returns v.Bump(), a version strictly greater than v (see
// Version.Bump); r's intervals are not consulted.
func (r Range) Bump(v Version) Version {
	return v.Bump()
}

func mergeAnchors(a, b map[[3]uint64]bool) map[[3]uint64]bool {
	out := make(map[[3]uint64]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func validInterval(lo, hi endpoint) bool {
	if lo.unbounded || hi.unbounded {
		return true
	}
	c := lo.version.Compare(hi.version)
	if c < 0 {
		return true
	}
	if c == 0 {
		return lo.inclusive && hi.inclusive
	}
	return false
}

func intersectInterval(a, b interval) (interval, bool) {
	lo := maxLo(a.lo, b.lo)
	hi := minHi(a.hi, b.hi)
	if !validInterval(lo, hi) {
		return interval{}, false
	}
	return interval{lo: lo, hi: hi}, true
}

func maxLo(a, b endpoint) endpoint {
	if a.unbounded {
		return b
	}
	if b.unbounded {
		return a
	}
	c := a.version.Compare(b.version)
	switch {
	case c > 0:
		return a
	case c < 0:
		return b
	default:
		if !a.inclusive {
			return a
		}
		return b
	}
}

func minHi(a, b endpoint) endpoint {
	if a.unbounded {
		return b
	}
	if b.unbounded {
		return a
	}
	c := a.version.Compare(b.version)
	switch {
	case c < 0:
		return a
	case c > 0:
		return b
	default:
		if !a.inclusive {
			return a
		}
		return b
	}
}

// normalize sorts intervals by lower bound and merges any that overlap
// or touch, producing the canonical disjoint-ascending representation.
func normalize(intervals []interval) []interval {
	clean := make([]interval, 0, len(intervals))
	for _, iv := range intervals {
		if validInterval(iv.lo, iv.hi) {
			clean = append(clean, iv)
		}
	}
	sortIntervals(clean)

	out := make([]interval, 0, len(clean))
	for _, iv := range clean {
		if len(out) == 0 {
			out = append(out, iv)
			continue
		}
		last := &out[len(out)-1]
		if touching(last.hi, iv.lo) {
			last.hi = maxHiEndpoint(last.hi, iv.hi)
			continue
		}
		out = append(out, iv)
	}
	return out
}

func sortIntervals(intervals []interval) {
	for i := 1; i < len(intervals); i++ {
		for j := i; j > 0 && compareLo(intervals[j].lo, intervals[j-1].lo) < 0; j-- {
			intervals[j], intervals[j-1] = intervals[j-1], intervals[j]
		}
	}
}

func compareLo(a, b endpoint) int {
	if a.unbounded && b.unbounded {
		return 0
	}
	if a.unbounded {
		return -1
	}
	if b.unbounded {
		return 1
	}
	c := a.version.Compare(b.version)
	if c != 0 {
		return c
	}
	if a.inclusive == b.inclusive {
		return 0
	}
	if a.inclusive {
		return -1
	}
	return 1
}

func touching(hi, lo endpoint) bool {
	if hi.unbounded {
		return true
	}
	if lo.unbounded {
		return true
	}
	c := hi.version.Compare(lo.version)
	if c > 0 {
		return true
	}
	if c < 0 {
		return false
	}
	return hi.inclusive || lo.inclusive
}

func maxHiEndpoint(a, b endpoint) endpoint {
	if a.unbounded {
		return a
	}
	if b.unbounded {
		return b
	}
	c := a.version.Compare(b.version)
	switch {
	case c > 0:
		return a
	case c < 0:
		return b
	default:
		if a.inclusive {
			return a
		}
		return b
	}
}
