package render

import (
	"strings"
	"unicode/utf8"
)

// Split breaks text into pieces of at most budget runes. It prefers blank
// line boundaries, then single line breaks, and cuts hard only when a single
// line is still too long. Empty pieces are dropped. budget <= 0 returns the
// trimmed text unsplit.
func Split(text string, budget int) []string {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	if budget <= 0 || runeLen(s) <= budget {
		return []string{s}
	}

	if paras := strings.Split(s, "\n\n"); len(paras) > 1 {
		return pack(paras, "\n\n", budget)
	}
	if lines := strings.Split(s, "\n"); len(lines) > 1 {
		return pack(lines, "\n", budget)
	}
	return hardCut(s, budget)
}

// pack greedily joins consecutive parts with sep while the result fits, and
// recursively splits any part that does not fit on its own.
func pack(parts []string, sep string, budget int) []string {
	var out []string
	var buf string
	flush := func() {
		if buf != "" {
			out = append(out, buf)
			buf = ""
		}
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		candidate := p
		if buf != "" {
			candidate = buf + sep + p
		}
		if runeLen(candidate) <= budget {
			buf = candidate
			continue
		}
		flush()
		if runeLen(p) <= budget {
			buf = p
			continue
		}
		out = append(out, Split(p, budget)...)
	}
	flush()
	return out
}

func hardCut(s string, budget int) []string {
	var out []string
	r := []rune(s)
	for len(r) > 0 {
		n := min(budget, len(r))
		if piece := strings.TrimSpace(string(r[:n])); piece != "" {
			out = append(out, piece)
		}
		r = r[n:]
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
