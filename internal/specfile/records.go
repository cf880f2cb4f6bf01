package specfile

import "strings"

// Record is one decoded key/value row from a list-style section.
type Record map[string]string

// Records decodes a section of free text into an ordered sequence of
// key/value records. A new record starts at a line beginning with a
// list marker ("- " or "* ") containing a key: value pair; subsequent
// indented or bare key: value lines extend the current record until the
// next list-marker line.
//
// Decoding is lenient because the source is natural-language-adjacent
// text: unparseable lines are silently skipped, and a malformed marker
// line detaches following continuations rather than corrupting the
// previous record.
func Records(section string) []Record {
	var records []Record
	var current Record

	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if rest, isMarker := trimListMarker(trimmed); isMarker {
			key, value, ok := splitKeyValue(rest)
			if !ok {
				current = nil
				continue
			}
			current = Record{strings.ToLower(key): value}
			records = append(records, current)
			continue
		}

		if current == nil {
			continue
		}
		if key, value, ok := splitKeyValue(trimmed); ok {
			current[strings.ToLower(key)] = value
		}
	}

	return records
}

// Get returns the first present value among keys.
func (r Record) Get(keys ...string) string {
	for _, key := range keys {
		if v, ok := r[key]; ok {
			return v
		}
	}
	return ""
}

// Bool interprets the first present value among keys as a boolean.
func (r Record) Bool(keys ...string) bool {
	switch strings.ToLower(r.Get(keys...)) {
	case "true", "yes", "1", "ro", "readonly":
		return true
	}
	return false
}

func trimListMarker(trimmed string) (string, bool) {
	for _, marker := range []string{"- ", "* "} {
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimSpace(trimmed[len(marker):]), true
		}
	}
	return "", false
}
