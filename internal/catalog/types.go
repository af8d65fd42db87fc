package catalog

import "github.com/scriptdeck/scriptdeck/internal/gitrepo"

// Source identifies where a script was discovered.
type Source string

const (
	SourceFolder Source = "folder"
	SourceGit    Source = "git"
)

// Parameter is one declared script parameter.
type Parameter struct {
	Name        string  `json:"name"`
	Type        *string `json:"type"`
	Mandatory   bool    `json:"mandatory"`
	Default     *string `json:"default"`
	Description *string `json:"description"`
}

// ScriptDescriptor is the normalized description of one runnable script.
// Metadata fields are nil when the script does not declare them.
type ScriptDescriptor struct {
	AbsolutePath string                  `json:"absolutePath"`
	RelativePath string                  `json:"relativePath"`
	Category     string                  `json:"category"`
	Source       Source                  `json:"source"`
	Repository   *gitrepo.RepositoryInfo `json:"repository"`

	Name        *string     `json:"name"`
	Synopsis    *string     `json:"synopsis"`
	Description *string     `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	ParseError  string      `json:"parseError,omitempty"`
}

// Folder is one catalog root as listed to callers.
type Folder struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsGitRepo   bool   `json:"isGitRepo"`
	Description string `json:"description,omitempty"`
}

// NodeType classifies a tree node.
type NodeType string

const (
	NodeCategory  NodeType = "category"
	NodeDirectory NodeType = "directory"
	NodeScript    NodeType = "script"
)

// TreeNode is one node of the presentation tree built by BuildTree.
type TreeNode struct {
	Name     string            `json:"name"`
	Path     string            `json:"path"`
	Type     NodeType          `json:"type"`
	Children []*TreeNode       `json:"children,omitempty"`
	Script   *ScriptDescriptor `json:"script,omitempty"`
}

// AllScripts is the merged catalog of every folder and repository.
type AllScripts struct {
	Scripts []ScriptDescriptor `json:"scripts"`
	Tree    []*TreeNode        `json:"tree"`
}

// PreviewRequest identifies a single script to parse.
type PreviewRequest struct {
	ScriptPath   string `json:"scriptPath"`
	RelativePath string `json:"relativePath,omitempty"`
	Repository   string `json:"repository,omitempty"`
}
