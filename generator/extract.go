package generator

import (
	"strings"
)

// ExtractCode returns the code carried by a model response: the innermost
// fenced block if there is one, the whole response otherwise, with any
// leading comment block removed.
func ExtractCode(response string) (string, error) {
	code := strings.TrimSpace(innermostFence(response))
	code = strings.TrimSpace(stripLeadingComments(code))
	if code == "" {
		return "", ErrEmptyResponse
	}
	return code, nil
}

type fence struct {
	open, close int
	depth       int
}

// innermostFence pairs fence lines and returns the body of the most deeply
// nested block, the first one on ties. A fence with a language tag always
// opens a block; a bare fence closes the open block, or opens one.
func innermostFence(text string) string {
	lines := strings.Split(text, "\n")

	var stack []int
	var blocks []fence
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		tag := strings.TrimSpace(strings.TrimLeft(trimmed, "`"))
		if tag != "" || len(stack) == 0 {
			stack = append(stack, i)
			continue
		}
		open := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		blocks = append(blocks, fence{open: open, close: i, depth: len(stack)})
	}

	if len(blocks) == 0 {
		if len(stack) > 0 {
			// Truncated response: keep what follows the opening fence.
			return strings.Join(lines[stack[0]+1:], "\n")
		}
		return text
	}

	best := blocks[0]
	for _, b := range blocks[1:] {
		if b.depth > best.depth || (b.depth == best.depth && b.open < best.open) {
			best = b
		}
	}
	return strings.Join(lines[best.open+1:best.close], "\n")
}

// stripLeadingComments removes leading // lines, /* */ blocks and blank lines.
func stripLeadingComments(code string) string {
	for {
		code = strings.TrimLeft(code, " \t\r\n")
		switch {
		case strings.HasPrefix(code, "//"):
			nl := strings.IndexByte(code, '\n')
			if nl < 0 {
				return ""
			}
			code = code[nl+1:]
		case strings.HasPrefix(code, "/*"):
			end := strings.Index(code, "*/")
			if end < 0 {
				return code
			}
			code = code[end+2:]
		default:
			return code
		}
	}
}
