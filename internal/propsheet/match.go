// Package propsheet implements a selector/property store with a scored
// best-match query, the same shape as a spreadsheet of rules: each row
// selects a set of columns via a matcher per column, and declares the
// properties it contributes when every column matches.
package propsheet

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Value is a scalar property value: string, 64-bit integer, or boolean.
type Value struct {
	Str     string
	Num     int64
	Bool    bool
	IsStr   bool
	IsNum   bool
	IsBool  bool
}

// StrValue builds a string Value.
func StrValue(s string) Value { return Value{Str: s, IsStr: true} }

// NumValue builds an integer Value.
func NumValue(n int64) Value { return Value{Num: n, IsNum: true} }

// BoolValue builds a boolean Value.
func BoolValue(b bool) Value { return Value{Bool: b, IsBool: true} }

// MatchKind identifies a JSON matcher's "type" tag.
type MatchKind string

const (
	// KindAny accepts unconditionally, score 1.
	KindAny MatchKind = "any"
	// KindExact requires equality, score 3.
	KindExact MatchKind = "exact"
	// KindFuzzy requires a regex match plus per-capture-group checks, score 2.
	KindFuzzy MatchKind = "fuzzy"
)

const (
	scoreAny   = 1
	scoreFuzzy = 2
	scoreExact = 3
)

// Matcher is a single-column selector component. Exactly one of the
// embedded variants is populated, selected by Kind.
type Matcher struct {
	Kind  MatchKind
	Exact string
	Fuzzy FuzzyMatch
}

// FuzzyMatch requires a regex to search-match the column value, then runs
// a checker against each numbered capture group listed in SMatch.
type FuzzyMatch struct {
	Regexp *regexp.Regexp
	// SMatch maps a capture-group index to the checker its substring must
	// satisfy.
	SMatch map[int]VersionChecker
}

// Score returns the match score of m against s, or 0 if it rejects.
func (m Matcher) Score(s string) int {
	switch m.Kind {
	case KindAny:
		return scoreAny
	case KindExact:
		if m.Exact == s {
			return scoreExact
		}
		return 0
	case KindFuzzy:
		loc := m.Fuzzy.Regexp.FindStringSubmatchIndex(s)
		if loc == nil {
			return 0
		}
		for grp, chk := range m.Fuzzy.SMatch {
			if 2*grp+1 >= len(loc) || loc[2*grp] < 0 {
				return 0
			}
			sub := s[loc[2*grp]:loc[2*grp+1]]
			if !chk.Check(sub) {
				return 0
			}
		}
		return scoreFuzzy
	default:
		return 0
	}
}

// Property is a single name/value pair contributed by an Entry.
type Property struct {
	Name  string
	Value Value
}

// Entry is one row of the sheet: a per-column selector plus the properties
// it contributes when every column in the selector matches.
type Entry struct {
	Selector []Matcher
	Props    []Property
}

// Score is a per-column vector of matcher scores, compared componentwise.
type Score []int

// GreaterOrEqual reports whether s is componentwise >= other. Both must be
// the same length.
func (s Score) GreaterOrEqual(other Score) bool {
	for i := range s {
		if s[i] < other[i] {
			return false
		}
	}
	return true
}

// --- JSON loading ---

type jsonMatcher struct {
	Type   string                    `json:"type"`
	Value  string                    `json:"value,omitempty"`
	Regex  string                    `json:"regex,omitempty"`
	SMatch map[string]jsonSMatchSpec `json:"smatch,omitempty"`
}

type jsonSMatchSpec struct {
	Check string  `json:"check"`
	Eq    *string `json:"==,omitempty"`
	Gt    *string `json:">,omitempty"`
	Ge    *string `json:">=,omitempty"`
	Lt    *string `json:"<,omitempty"`
	Le    *string `json:"<=,omitempty"`
}

// LoadError reports a failure parsing a property-sheet JSON document. It
// carries the originating filename and wraps the underlying cause.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("propsheet: load error: %v", e.Err)
	}
	return fmt.Sprintf("propsheet: load error in %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func parseMatcher(raw json.RawMessage) (Matcher, error) {
	var jm jsonMatcher
	if err := json.Unmarshal(raw, &jm); err != nil {
		return Matcher{}, fmt.Errorf("bad matcher shape: %w", err)
	}

	switch MatchKind(jm.Type) {
	case KindAny:
		return Matcher{Kind: KindAny}, nil
	case KindExact:
		if jm.Value == "" {
			return Matcher{}, fmt.Errorf("exact matcher missing %q field", "value")
		}
		return Matcher{Kind: KindExact, Exact: jm.Value}, nil
	case KindFuzzy:
		if jm.Regex == "" {
			return Matcher{}, fmt.Errorf("fuzzy matcher missing %q field", "regex")
		}
		re, err := regexp.Compile(jm.Regex)
		if err != nil {
			return Matcher{}, fmt.Errorf("bad regex %q: %w", jm.Regex, err)
		}
		smatch := make(map[int]VersionChecker, len(jm.SMatch))
		for grpStr, spec := range jm.SMatch {
			grp, err := parseGroupIndex(grpStr)
			if err != nil {
				return Matcher{}, fmt.Errorf("bad submatch group %q in /%s/: %w", grpStr, jm.Regex, err)
			}
			if grp > re.NumSubexp() {
				return Matcher{}, fmt.Errorf("bad submatch group %d in /%s/", grp, jm.Regex)
			}
			if spec.Check != "version" {
				return Matcher{}, fmt.Errorf("unknown smatch checker: %s", spec.Check)
			}
			smatch[grp] = versionCheckerFromSpec(spec)
		}
		return Matcher{Kind: KindFuzzy, Fuzzy: FuzzyMatch{Regexp: re, SMatch: smatch}}, nil
	case "":
		return Matcher{}, fmt.Errorf("matcher missing %q field", "type")
	default:
		return Matcher{}, fmt.Errorf("unknown matcher type: %s", jm.Type)
	}
}

func versionCheckerFromSpec(spec jsonSMatchSpec) VersionChecker {
	var c VersionChecker
	if spec.Eq != nil {
		v := ParseVersion(*spec.Eq)
		c.Low, c.LowStrict = v, false
		c.High, c.HighStrict = v, false
		return c
	}
	if spec.Gt != nil {
		c.Low, c.LowStrict = ParseVersion(*spec.Gt), true
	} else if spec.Ge != nil {
		c.Low, c.LowStrict = ParseVersion(*spec.Ge), false
	}
	if spec.Lt != nil {
		c.High, c.HighStrict = ParseVersion(*spec.Lt), true
	} else if spec.Le != nil {
		c.High, c.HighStrict = ParseVersion(*spec.Le), false
	}
	return c
}

func parseGroupIndex(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseValue(raw json.RawMessage) (Value, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}, err
	}
	switch x := v.(type) {
	case string:
		return StrValue(x), nil
	case float64:
		return NumValue(int64(x)), nil
	case bool:
		return BoolValue(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported property value type")
	}
}
