package catalog

import (
	"regexp"
	"strings"
)

var (
	psKeywordRe    = regexp.MustCompile(`(?i)^\s*\.(SYNOPSIS|DESCRIPTION|PARAMETER|EXAMPLE|INPUTS|OUTPUTS|NOTES|LINK|COMPONENT|ROLE|FUNCTIONALITY)\b\s*(.*)$`)
	psParamStartRe = regexp.MustCompile(`(?i)\bparam\s*\(`)
	psAttributeRe  = regexp.MustCompile(`\[\s*[A-Za-z][\w.]*\s*\([^\]]*\)\s*\]`)
	psMandatoryRe  = regexp.MustCompile(`(?i)\bMandatory\b(\s*=\s*\$(true|false))?`)
	psTypeRe       = regexp.MustCompile(`\[\s*([A-Za-z][\w.]*(?:\[\])?)\s*\]`)
	psVariableRe   = regexp.MustCompile(`\$([A-Za-z_]\w*)`)
	psDefaultRe    = regexp.MustCompile(`(?s)\$[A-Za-z_]\w*\s*=\s*(.+)$`)
)

// parsePowerShell reads comment-based help (.SYNOPSIS, .DESCRIPTION,
// .PARAMETER) and the param() block.
func parsePowerShell(content string) metadata {
	help, helpEnd := psHelpBlock(content)
	sections, paramHelp := psHelpSections(help)

	meta := metadata{
		synopsis:    optional(sections["SYNOPSIS"]),
		description: optional(sections["DESCRIPTION"]),
	}

	if block, ok := psParamBlock(content[helpEnd:]); ok {
		for _, entry := range splitTopLevel(stripLineComments(block), ',') {
			if p, ok := psParameter(entry); ok {
				if d, found := paramHelp[strings.ToLower(p.Name)]; found {
					p.Description = optional(d.text)
				}
				meta.params = append(meta.params, p)
			}
		}
	} else {
		for _, d := range orderedParamHelp(paramHelp) {
			meta.params = append(meta.params, Parameter{Name: d.name, Description: optional(d.text)})
		}
	}
	return meta
}

// psHelpBlock returns the text of the first help comment and the offset
// after it. Both <# #> blocks and runs of # lines are recognized.
func psHelpBlock(content string) (string, int) {
	if start := strings.Index(content, "<#"); start >= 0 {
		if end := strings.Index(content[start+2:], "#>"); end >= 0 {
			block := content[start+2 : start+2+end]
			if psKeywordRe.MatchString(firstKeywordLine(block)) {
				return block, start + 2 + end + 2
			}
		}
	}

	var lines []string
	offset := 0
	inRun := false
	for _, line := range strings.SplitAfter(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "#Requires") && !strings.HasPrefix(trimmed, "#!") {
			lines = append(lines, strings.TrimPrefix(trimmed, "#"))
			inRun = true
		} else if inRun {
			break
		} else if trimmed != "" {
			break
		}
		offset += len(line)
	}
	block := strings.Join(lines, "\n")
	if !psKeywordRe.MatchString(firstKeywordLine(block)) {
		return "", 0
	}
	return block, offset
}

func firstKeywordLine(block string) string {
	for _, line := range strings.Split(block, "\n") {
		if psKeywordRe.MatchString(line) {
			return line
		}
	}
	return ""
}

type paramDoc struct {
	name  string
	text  string
	order int
}

// psHelpSections splits help text into keyword sections. PARAMETER
// sections are keyed by lowercased parameter name.
func psHelpSections(help string) (map[string]string, map[string]paramDoc) {
	sections := make(map[string]string)
	params := make(map[string]paramDoc)
	if help == "" {
		return sections, params
	}

	var (
		keyword string
		arg     string
		body    []string
	)
	flush := func() {
		if keyword == "" {
			return
		}
		text := joinLines(body)
		if keyword == "PARAMETER" && arg != "" {
			params[strings.ToLower(arg)] = paramDoc{name: arg, text: text, order: len(params)}
		} else if _, seen := sections[keyword]; !seen {
			sections[keyword] = text
		}
	}
	for _, line := range strings.Split(help, "\n") {
		if m := psKeywordRe.FindStringSubmatch(line); m != nil {
			flush()
			keyword = strings.ToUpper(m[1])
			arg = strings.TrimSpace(m[2])
			body = nil
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections, params
}

func orderedParamHelp(params map[string]paramDoc) []paramDoc {
	out := make([]paramDoc, len(params))
	for _, d := range params {
		out[d.order] = d
	}
	return out
}

// psParamBlock returns the contents of the first param( ... ) block.
func psParamBlock(content string) (string, bool) {
	loc := psParamStartRe.FindStringIndex(content)
	if loc == nil {
		return "", false
	}
	start := loc[1]
	depth := 1
	var quote byte
	for i := start; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '#':
			// Skip a line comment inside the block.
			if nl := strings.IndexByte(content[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				return "", false
			}
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return content[start:i], true
			}
		}
	}
	return "", false
}

// splitTopLevel splits s on sep outside brackets, parentheses, braces and
// quotes.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		last  int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func psParameter(entry string) (Parameter, bool) {
	mandatory := false
	for _, attr := range psAttributeRe.FindAllString(entry, -1) {
		if m := psMandatoryRe.FindStringSubmatch(attr); m != nil {
			mandatory = m[2] == "" || strings.EqualFold(m[2], "true")
		}
	}
	rest := psAttributeRe.ReplaceAllString(entry, "")

	v := psVariableRe.FindStringSubmatchIndex(rest)
	if v == nil {
		return Parameter{}, false
	}
	p := Parameter{
		Name:      rest[v[2]:v[3]],
		Mandatory: mandatory,
	}
	if types := psTypeRe.FindAllStringSubmatch(rest[:v[0]], -1); len(types) > 0 {
		p.Type = strPtr(types[len(types)-1][1])
	}
	if m := psDefaultRe.FindStringSubmatch(rest[v[0]:]); m != nil {
		p.Default = optional(m[1])
	}
	return p, true
}

func stripLineComments(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "#"); idx >= 0 && !strings.ContainsAny(line[:idx], `'"`) {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
