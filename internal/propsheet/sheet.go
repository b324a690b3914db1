package propsheet

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Sheet is a fixed-width selector/property store. Columns are named once
// at construction and every Entry's selector has exactly len(Columns)
// matchers, indexed in that order.
type Sheet struct {
	Columns []string
	entries []Entry

	colIndex map[string]int
}

// New builds an empty sheet over the given ordered column names.
func New(columns []string) *Sheet {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &Sheet{Columns: columns, colIndex: idx}
}

// Append adds a single entry. The caller must size e.Selector to
// len(Columns); Append panics otherwise, matching the source's assertion
// that a malformed entry is a programmer error, not a runtime condition.
func (s *Sheet) Append(e Entry) {
	if len(e.Selector) != len(s.Columns) {
		panic(fmt.Sprintf("propsheet: selector has %d columns, want %d", len(e.Selector), len(s.Columns)))
	}
	s.entries = append(s.entries, e)
}

// AppendAll appends every entry, in order. Used by loaders that must apply
// all-or-nothing: validate externally, then call AppendAll once every
// entry has parsed successfully.
func (s *Sheet) AppendAll(entries []Entry) {
	for _, e := range entries {
		s.Append(e)
	}
}

// Match scores a single entry's selector against fields, one per column.
// Returns nil if any column scores 0.
func Match(selector []Matcher, fields []string) Score {
	score := make(Score, len(selector))
	for i, m := range selector {
		score[i] = m.Score(fields[i])
		if score[i] == 0 {
			return nil
		}
	}
	return score
}

type matchedProperty struct {
	prop  Property
	score Score
}

// Query returns the best-matched properties for the given column values,
// one per Sheet column and in that order, sorted by property name.
func (s *Sheet) Query(fields []string) []Property {
	if len(fields) != len(s.Columns) {
		panic(fmt.Sprintf("propsheet: query has %d fields, want %d", len(fields), len(s.Columns)))
	}

	results := make(map[string]matchedProperty)
	for _, e := range s.entries {
		score := Match(e.Selector, fields)
		if score == nil {
			continue
		}
		for _, prop := range e.Props {
			old, ok := results[prop.Name]
			if !ok || score.GreaterOrEqual(old.score) {
				results[prop.Name] = matchedProperty{prop: prop, score: score}
			}
		}
	}

	out := make([]Property, 0, len(results))
	for _, mp := range results {
		out = append(out, mp.prop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// jsonEntry mirrors the on-disk shape: {"selector": {col: matcher, ...},
// "props": {name: scalar, ...}}.
type jsonEntry struct {
	Selector map[string]json.RawMessage `json:"selector"`
	Props    map[string]json.RawMessage `json:"props"`
}

// ParseEntries parses a JSON array of entries against this sheet's column
// set, without mutating the sheet. Callers append the result via AppendAll
// only after every entry in a load unit has parsed successfully, to
// satisfy the load's all-or-nothing contract.
func (s *Sheet) ParseEntries(data []byte) ([]Entry, error) {
	var raw []jsonEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("expected a top-level JSON array: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, je := range raw {
		e := Entry{Selector: make([]Matcher, len(s.Columns))}
		for col, matcherJSON := range je.Selector {
			idx, ok := s.colIndex[col]
			if !ok {
				return nil, fmt.Errorf("unknown selector name: %s", col)
			}
			m, err := parseMatcher(matcherJSON)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			e.Selector[idx] = m
		}
		for i, m := range e.Selector {
			if m.Kind == "" {
				e.Selector[i] = Matcher{Kind: KindAny}
			}
		}

		for name, valueJSON := range je.Props {
			v, err := parseValue(valueJSON)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			e.Props = append(e.Props, Property{Name: name, Value: v})
		}
		entries = append(entries, e)
	}
	return entries, nil
}
