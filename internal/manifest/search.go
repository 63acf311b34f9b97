package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"schoolsync/internal/config"
)

// Match is one record returned by Search.
type Match struct {
	Name   string         `json:"name"`
	Score  int            `json:"score"`
	Record map[string]any `json:"record"`
}

type indexedRecord struct {
	name   string
	folded string
	record map[string]any
}

type index struct {
	sha256  string
	records []indexedRecord
}

// fold lowercases, strips diacritics and applies NFKC so "Amína" matches "amina".
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// buildIndex decodes a manifest document. The document is either an array of
// records or an object holding the array under cfg.RecordsKey.
func buildIndex(data []byte, cfg config.Manifest) (*index, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("manifest is empty")
	}
	var raw []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode manifest array: %w", err)
		}
	case '{':
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode manifest object: %w", err)
		}
		if list, ok := doc[cfg.RecordsKey]; ok {
			if err := json.Unmarshal(list, &raw); err != nil {
				return nil, fmt.Errorf("manifest %q must be an array: %w", cfg.RecordsKey, err)
			}
		}
	default:
		return nil, errors.New("manifest must be a JSON object or array")
	}

	idx := &index{records: make([]indexedRecord, 0, len(raw))}
	for _, item := range raw {
		var record map[string]any
		if err := json.Unmarshal(item, &record); err != nil {
			// scalars in the list carry nothing searchable
			continue
		}
		name := recordName(record, cfg.NameFields)
		idx.records = append(idx.records, indexedRecord{name: name, folded: fold(name), record: record})
	}
	return idx, nil
}

func recordName(record map[string]any, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		value, ok := record[field].(string)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || strings.Contains(strings.Join(parts, " "), value) {
			continue
		}
		parts = append(parts, value)
	}
	return strings.Join(parts, " ")
}

// Search finds records whose name contains every query term. Results are ranked
// by how early the terms match, then by name. limit <= 0 returns all matches.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	_, idx, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(fold(query))
	if len(terms) == 0 {
		return nil, errors.New("search query is empty")
	}

	var matches []Match
	for _, rec := range idx.records {
		score, ok := scoreRecord(rec.folded, terms)
		if !ok {
			continue
		}
		matches = append(matches, Match{Name: rec.name, Score: score, Record: rec.record})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score < matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// scoreRecord returns the summed match offsets; lower is better. Terms matching
// at a word start score as offset zero.
func scoreRecord(name string, terms []string) (int, bool) {
	score := 0
	for _, term := range terms {
		pos := strings.Index(name, term)
		if pos < 0 {
			return 0, false
		}
		if pos == 0 || strings.Contains(" "+name, " "+term) {
			continue
		}
		score += pos
	}
	return score, true
}
