package makefile

import "strings"

// parseLine classifies a single logical (already-spliced) line. It
// returns ok=false for blank lines, comments, and anything that
// doesn't match one of the recognised statement shapes — those are
// silently skipped by the caller, per spec.
func parseLine(line string) (*Statement, bool) {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return nil, false
	}

	if strings.HasPrefix(line, "endif") {
		return &Statement{Kind: KindEndIf}, true
	}

	if rest, ok := strings.CutPrefix(line, "else "); ok {
		rest = strings.TrimSpace(rest)
		if conds, ok := parseIfConditions(rest); ok {
			return &Statement{Kind: KindElseIf, Conditions: conds}, true
		}
		return nil, false
	}

	if conds, ok := parseIfConditions(line); ok {
		return &Statement{Kind: KindIf, Conditions: conds}, true
	}

	return parseVar(line)
}

// parseIfConditions recognises `ifdef NAME`, `ifndef NAME`,
// `ifeq (...)`, `ifneq (...)` and extracts their conditions.
func parseIfConditions(s string) ([]string, bool) {
	if rest, ok := cutKeyword(s, "ifdef"); ok {
		return singleConfigCondition(rest)
	}
	if rest, ok := cutKeyword(s, "ifndef"); ok {
		return singleConfigCondition(rest)
	}
	if rest, ok := cutKeyword(s, "ifeq"); ok {
		return extractConditions(rest), true
	}
	if rest, ok := cutKeyword(s, "ifneq"); ok {
		return extractConditions(rest), true
	}
	return nil, false
}

// cutKeyword returns the remainder of s after keyword plus whitespace,
// only if s actually begins with "<keyword><whitespace>".
func cutKeyword(s, keyword string) (string, bool) {
	rest, ok := strings.CutPrefix(s, keyword)
	if !ok || rest == s {
		return "", false
	}
	if rest == "" || !isSpace(rest[0]) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// singleConfigCondition extracts the CONFIG_-prefixed token after
// ifdef/ifndef, stripping the prefix if present. Returns ok=false if
// the token has no CONFIG_ prefix (the spec only tracks CONFIG_*
// predicates).
func singleConfigCondition(rest string) ([]string, bool) {
	tok, _, _ := strings.Cut(rest, " ")
	tok = strings.TrimSpace(tok)
	if idx := strings.Index(tok, "CONFIG_"); idx >= 0 {
		return []string{tok[idx+len("CONFIG_"):]}, true
	}
	return nil, false
}

// extractConditions implements spec.md §4.2's "condition extraction":
// split s at the literal token "$(CONFIG_", drop the first shard, and
// for each remaining shard take the substring before the next ")",
// keeping it only if every character is alphanumeric or "_".
func extractConditions(s string) []string {
	shards := strings.Split(s, "$(CONFIG_")
	if len(shards) < 2 {
		return nil
	}

	var out []string
	for _, shard := range shards[1:] {
		name, _, ok := strings.Cut(shard, ")")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name != "" && isAlnumUnderscore(name) {
			out = append(out, name)
		}
	}
	return out
}

func isAlnumUnderscore(s string) bool {
	for _, r := range s {
		if !(r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

// parseVar recognises `<prefix>-<key>=<value>`, per spec.md §4.2: the
// first `-` inside the left-hand side is chosen such that the
// remainder either begins with "$(" or contains no further "-".
// Trailing "+", ":", "?", whitespace on the key are stripped; elements
// are parsed from the right-hand side.
func parseVar(line string) (*Statement, bool) {
	lhs, rhs, ok := strings.Cut(line, "=")
	if !ok {
		return nil, false
	}

	prefix, key, ok := splitOnceWhere(lhs, "-", func(_, sfx string) bool {
		return strings.HasPrefix(sfx, "$(") || !strings.Contains(sfx, "-")
	})
	if !ok {
		return nil, false
	}

	key = strings.TrimRight(key, "+:? \t")
	conditions := extractConditions(key)
	elements := parseElements(prefix, strings.TrimSpace(rhs))

	if len(elements) == 0 {
		return nil, false
	}

	return &Statement{
		Kind:       KindVar,
		Prefix:     prefix,
		Conditions: conditions,
		Elements:   elements,
	}, true
}

// splitOnceWhere scans every occurrence of sep in s and returns the
// first split where pred holds over (prefix, suffix).
func splitOnceWhere(s, sep string, pred func(prefix, suffix string) bool) (string, string, bool) {
	start := 0
	for {
		idx := strings.Index(s[start:], sep)
		if idx < 0 {
			return "", "", false
		}
		idx += start
		a, b := s[:idx], s[idx+len(sep):]
		if pred(a, b) {
			return a, b, true
		}
		start = idx + len(sep)
	}
}

// parseElements implements spec.md §4.2's element extraction: split on
// whitespace; if prefix is "subdir" keep every token, else keep only
// tokens ending in "/" or ".o"; strip a trailing "/"; reject tokens
// beginning with "-" or containing characters outside
// [A-Za-z0-9_./-].
func parseElements(prefix, rhs string) []string {
	var out []string
	for _, tok := range strings.Fields(rhs) {
		if prefix != "subdir" && !strings.HasSuffix(tok, "/") && !strings.HasSuffix(tok, ".o") {
			continue
		}
		tok = strings.TrimSuffix(tok, "/")
		if strings.HasPrefix(tok, "-") {
			continue
		}
		if !isPathSafe(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func isPathSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '/' || r == '-':
		default:
			return false
		}
	}
	return true
}
