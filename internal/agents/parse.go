package agents

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/contextcore/coyote/internal/pipeline"
)

// Agents instruct the model to answer in markdown sections. Parsing is
// lenient: replies that drop a heading still produce a usable payload.

var headingRe = regexp.MustCompile(`^#{2,3}\s+(.+?)\s*$`)

// sections splits a markdown reply into heading -> body, keyed by the
// lowercased heading text. Content before the first heading is under "".
func sections(reply string) map[string]string {
	out := make(map[string]string)
	key := ""
	var body []string

	flush := func() {
		out[key] = strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
	}

	for _, line := range strings.Split(reply, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			key = strings.ToLower(strings.TrimSpace(m[1]))
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// section returns the first non-empty section among the candidate headings.
func section(secs map[string]string, names ...string) string {
	for _, name := range names {
		if v := secs[name]; v != "" {
			return v
		}
	}
	return ""
}

// bullets extracts list items ("- x", "* x", "1. x") from a section body.
func bullets(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			out = append(out, strings.TrimSpace(line[2:]))
		case strings.HasPrefix(line, "* "):
			out = append(out, strings.TrimSpace(line[2:]))
		default:
			if m := numberedItem.FindStringSubmatch(line); m != nil {
				out = append(out, strings.TrimSpace(m[1]))
			}
		}
	}
	return out
}

var numberedItem = regexp.MustCompile(`^\d+[.)]\s+(.*)`)

var codeRefRe = regexp.MustCompile(`([\w./\\-]+\.\w+)(?::(\d+))?`)

// codeRefs pulls file (and optional line) references out of a section body.
func codeRefs(body string) []pipeline.CodeRef {
	var refs []pipeline.CodeRef
	seen := make(map[string]bool)
	for _, m := range codeRefRe.FindAllStringSubmatch(body, -1) {
		ref := pipeline.CodeRef{File: m[1]}
		if m[2] != "" {
			ref.Line, _ = strconv.Atoi(m[2])
		}
		key := m[1] + ":" + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, ref)
	}
	return refs
}

var riskNumberRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%|([01](?:\.\d+)?)`)

// riskScore extracts a 0..1 risk score from free text. Accepts either a bare
// fraction ("0.3") or a percentage ("30%"); unparseable text scores 0.5.
func riskScore(body string) float64 {
	m := riskNumberRe.FindStringSubmatch(body)
	if m == nil {
		return 0.5
	}
	if m[1] != "" {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct < 0 || pct > 100 {
			return 0.5
		}
		return pct / 100
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil || v < 0 || v > 1 {
		return 0.5
	}
	return v
}

// fencedBlock returns the contents of the first fenced code block with the
// given language tag ("" matches any fence).
func fencedBlock(reply, lang string) string {
	open := "```" + lang
	start := strings.Index(reply, open)
	if start < 0 {
		return ""
	}
	rest := reply[start+len(open):]
	if i := strings.Index(rest, "\n"); i >= 0 {
		rest = rest[i+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimRight(rest[:end], "\n")
}

// firstLineOf returns the first non-empty line, for use as a summary.
func firstLineOf(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
