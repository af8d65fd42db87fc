package catalog

import (
	"path/filepath"
	"strings"
)

// CommandFor returns the interpreter and arguments that run the script.
// PowerShell scripts use shell, which defaults to pwsh.
func CommandFor(script *ScriptDescriptor, shell string, args []string) (string, []string) {
	if shell == "" {
		shell = "pwsh"
	}
	path := script.AbsolutePath

	var command string
	var argv []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ps1", ".psm1":
		command = shell
		argv = []string{"-NoLogo", "-NoProfile", "-File", path}
	case ".py":
		command = "python3"
		argv = []string{path}
	case ".sh":
		command = "sh"
		argv = []string{path}
	default:
		command = path
	}
	return command, append(argv, args...)
}
