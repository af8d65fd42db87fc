package catalog

import (
	"regexp"
	"strings"
)

var (
	headerFieldRe  = regexp.MustCompile(`(?i)^(synopsis|description|summary)\s*:\s*(.*)$`)
	headerParamRe  = regexp.MustCompile(`(?i)^(?:@param|param(?:eter)?\s*:)\s*([\w-]+)\s*(?:-\s*)?(.*)$`)
	argparseRe     = regexp.MustCompile(`add_argument\(\s*["']([\w-]+)["']([^)]*)\)`)
	argparseHelpRe = regexp.MustCompile(`help\s*=\s*["']([^"']*)["']`)
	argparseReqRe  = regexp.MustCompile(`required\s*=\s*True`)
	argparseDefRe  = regexp.MustCompile(`default\s*=\s*([^,)]+)`)
	argparseTypeRe = regexp.MustCompile(`type\s*=\s*(\w+)`)
)

// parseShell reads the leading # comment block of a shell-style script.
// "Synopsis:", "Description:" and "Param: name - text" lines are picked up;
// remaining comment text becomes the description.
func parseShell(content string) metadata {
	return parseCommentHeader(leadingComments(content))
}

func leadingComments(content string) []string {
	var lines []string
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if i == 0 && strings.HasPrefix(trimmed, "#!") {
			continue
		}
		if strings.HasPrefix(trimmed, "# -*-") {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed == "" && len(lines) == 0 {
				continue
			}
			break
		}
		lines = append(lines, strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
	}
	return lines
}

func parseCommentHeader(lines []string) metadata {
	var (
		meta     metadata
		freeText []string
	)
	for _, line := range lines {
		if m := headerFieldRe.FindStringSubmatch(line); m != nil {
			switch strings.ToLower(m[1]) {
			case "synopsis", "summary":
				meta.synopsis = optional(m[2])
			case "description":
				meta.description = optional(m[2])
			}
			continue
		}
		if m := headerParamRe.FindStringSubmatch(line); m != nil {
			meta.params = append(meta.params, Parameter{Name: m[1], Description: optional(m[2])})
			continue
		}
		freeText = append(freeText, line)
	}
	if meta.description == nil {
		meta.description = optional(joinLines(freeText))
	}
	return meta
}

// parsePython prefers the module docstring and falls back to the comment
// header. argparse arguments become parameters.
func parsePython(content string) metadata {
	meta := parseCommentHeader(leadingComments(content))
	if doc, ok := moduleDocstring(content); ok {
		lines := strings.Split(strings.TrimSpace(doc), "\n")
		meta.synopsis = optional(lines[0])
		if len(lines) > 1 {
			meta.description = optional(joinLines(lines[1:]))
		} else {
			meta.description = optional(lines[0])
		}
	}

	var params []Parameter
	for _, m := range argparseRe.FindAllStringSubmatch(content, -1) {
		name := strings.TrimLeft(m[1], "-")
		opts := m[2]
		p := Parameter{Name: name, Mandatory: !strings.HasPrefix(m[1], "-")}
		if argparseReqRe.MatchString(opts) {
			p.Mandatory = true
		}
		if h := argparseHelpRe.FindStringSubmatch(opts); h != nil {
			p.Description = optional(h[1])
		}
		if d := argparseDefRe.FindStringSubmatch(opts); d != nil {
			p.Default = optional(d[1])
		}
		if ty := argparseTypeRe.FindStringSubmatch(opts); ty != nil {
			p.Type = strPtr(ty[1])
		}
		params = append(params, p)
	}
	if len(params) > 0 {
		meta.params = params
	}
	return meta
}

// moduleDocstring returns the docstring if it is the first statement.
func moduleDocstring(content string) (string, bool) {
	rest := content
	for {
		rest = strings.TrimLeft(rest, " \t\n")
		if strings.HasPrefix(rest, "#") {
			nl := strings.IndexByte(rest, '\n')
			if nl < 0 {
				return "", false
			}
			rest = rest[nl+1:]
			continue
		}
		break
	}
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(rest, q) {
			end := strings.Index(rest[3:], q)
			if end < 0 {
				return "", false
			}
			return rest[3 : 3+end], true
		}
	}
	return "", false
}
