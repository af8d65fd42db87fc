package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
)

// maxParseBytes caps how much of a script is read for metadata.
const maxParseBytes = 256 * 1024

// metadata is what a language parser extracts from a script header.
type metadata struct {
	synopsis    *string
	description *string
	params      []Parameter
}

// ParseScript builds a descriptor for one script. It never fails: a file
// that cannot be read or parsed yields a descriptor with empty metadata and
// ParseError set.
func ParseScript(absPath, relativePath, category string, repo *gitrepo.RepositoryInfo) ScriptDescriptor {
	desc := ScriptDescriptor{
		AbsolutePath: absPath,
		RelativePath: filepath.ToSlash(relativePath),
		Category:     category,
		Source:       SourceFolder,
		Name:         strPtr(scriptName(absPath)),
	}
	if repo != nil {
		r := *repo
		desc.Source = SourceGit
		desc.Repository = &r
	}

	content, err := readHeader(absPath)
	if err != nil {
		desc.ParseError = err.Error()
		return desc
	}

	meta := parseContent(strings.ToLower(filepath.Ext(absPath)), content)
	desc.Synopsis = meta.synopsis
	desc.Description = meta.description
	desc.Parameters = meta.params
	return desc
}

func parseContent(ext, content string) metadata {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimPrefix(content, "\ufeff")
	switch ext {
	case ".ps1", ".psm1":
		return parsePowerShell(content)
	case ".py":
		return parsePython(content)
	default:
		return parseShell(content)
	}
}

func readHeader(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxParseBytes))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		// Keep a valid prefix when the limit cut a rune in half.
		trimmed := data
		for i := 0; i < utf8.UTFMax && len(trimmed) > 0 && !utf8.Valid(trimmed); i++ {
			trimmed = trimmed[:len(trimmed)-1]
		}
		if !utf8.Valid(trimmed) {
			return "", fmt.Errorf("%s is not a UTF-8 text file", filepath.Base(path))
		}
		data = trimmed
	}
	return string(data), nil
}

func scriptName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func strPtr(s string) *string {
	return &s
}

// optional returns nil for blank text.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// joinLines trims every line and joins them, collapsing leading and
// trailing blank lines.
func joinLines(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimSpace(l))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
