package main

import (
	"regexp"
	"strings"
)

// indexTerms are the index constraints found in an SPL query. Names are
// lower-cased and may contain * wildcards.
type indexTerms struct {
	names   []string
	negated []string
}

func (t indexTerms) empty() bool {
	return len(t.names) == 0 && len(t.negated) == 0
}

var (
	// index IN (a, "b", c*) and NOT index IN (...)
	indexInList = regexp.MustCompile(`(?i)(\bNOT\s+)?\bindex\s+IN\s*\(([^)]*)\)`)
	// index=a, index="a b", index!=a, index::a and NOT index=a
	indexCompare = regexp.MustCompile(`(?i)(\bNOT\s+)?\bindex\s*(!=|::|=)\s*("[^"]*"|[^\s|()]+)`)
)

// parseIndexTerms extracts every index term from spl. Negated terms
// (index!=x, NOT index=x, NOT index IN (...)) are reported separately
// because they widen the search to all other indexes.
func parseIndexTerms(spl string) indexTerms {
	var t indexTerms
	seen := map[string]bool{}
	add := func(negated bool, raw string) {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"'`))
		if name == "" {
			return
		}
		key := name
		if negated {
			key = "!" + name
		}
		if seen[key] {
			return
		}
		seen[key] = true
		if negated {
			t.negated = append(t.negated, name)
		} else {
			t.names = append(t.names, name)
		}
	}

	rest := indexInList.ReplaceAllStringFunc(spl, func(m string) string {
		sub := indexInList.FindStringSubmatch(m)
		negated := sub[1] != ""
		for _, item := range strings.Split(sub[2], ",") {
			for _, name := range strings.Fields(item) {
				add(negated, name)
			}
		}
		return " "
	})

	for _, m := range indexCompare.FindAllStringSubmatch(rest, -1) {
		add(m[1] != "" || m[2] == "!=", m[3])
	}
	return t
}

// wildcardMatch reports whether name matches an SPL pattern in which only *
// is special.
func wildcardMatch(pattern, name string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == name
	}
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(name, part)
		if i < 0 {
			return false
		}
		name = name[i+len(part):]
	}
	return strings.HasSuffix(name, last)
}
