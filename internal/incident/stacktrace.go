package incident

import (
	"regexp"
	"strconv"
	"strings"
)

// Stack trace formats seen in production error payloads. Python tracebacks
// carry the function on the same line; Go panics put the function on the line
// above the file:line entry.
var (
	// Python:  File "app/handlers.py", line 42, in get_user
	pythonFrame = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)(?:, in (\S+))?`)

	// Go:  	/srv/app/handlers.go:42 +0x1b
	goFrame = regexp.MustCompile(`^\s+(\S+\.go):(\d+)(?:\s+\+0x[0-9a-f]+)?$`)

	// Generic:  at handler (app/handlers.js:42:10)  or  app/handlers.rb:42:in 'fetch'
	genericFrame = regexp.MustCompile(`([\w./\\-]+\.\w+):(\d+)`)
)

// ParseStack parses a raw stack trace into ordered frames, innermost first
// when the input lists them that way (Go, JS) and preserving source order
// otherwise. Unparseable lines are skipped; an unrecognised trace yields nil.
func ParseStack(raw string) []Frame {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var frames []Frame
	var prevLine string
	for _, line := range strings.Split(raw, "\n") {
		if m := pythonFrame.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			frames = append(frames, Frame{File: m[1], Line: n, Function: m[3]})
			prevLine = line
			continue
		}
		if m := goFrame.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			frames = append(frames, Frame{File: m[1], Line: n, Function: goFunction(prevLine)})
			prevLine = line
			continue
		}
		if m := genericFrame.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			frames = append(frames, Frame{File: m[1], Line: n, Function: genericFunction(line)})
		}
		prevLine = line
	}
	return frames
}

// goFunction extracts the function name from the line preceding a Go frame,
// e.g. "main.(*Server).handle(0xc000010000)".
func goFunction(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "goroutine") {
		return ""
	}
	i := strings.LastIndex(line, "(")
	if i <= 0 {
		return ""
	}
	name := line[:i]
	if strings.ContainsAny(name, " \t") || !strings.Contains(name, ".") {
		return ""
	}
	return name
}

// genericFunction pulls a function name out of "at fn (file:line:col)" style
// frames used by Node and browsers.
func genericFunction(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "at ") {
		rest := strings.TrimPrefix(line, "at ")
		if i := strings.Index(rest, " ("); i > 0 {
			return rest[:i]
		}
	}
	if i := strings.Index(line, ":in `"); i > 0 {
		end := strings.Index(line[i+5:], "'")
		if end > 0 {
			return line[i+5 : i+5+end]
		}
	}
	return ""
}
