package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTreeGroupsByCategoryThenPath(t *testing.T) {
	scripts := []ScriptDescriptor{
		{RelativePath: "z.ps1", Category: "ops"},
		{RelativePath: "db/backup.sh", Category: "ops"},
		{RelativePath: "db/sub/restore.sh", Category: "ops"},
		{RelativePath: "lint.py", Category: "tools"},
		{RelativePath: "a.ps1", Category: "ops"},
	}
	before := append([]ScriptDescriptor(nil), scripts...)

	tree := BuildTree(scripts)
	assert.Equal(t, before, scripts, "input must not be modified")

	require.Len(t, tree, 2)
	ops := tree[0]
	assert.Equal(t, "ops", ops.Name)
	assert.Equal(t, NodeCategory, ops.Type)

	require.Len(t, ops.Children, 3)
	db := ops.Children[0]
	assert.Equal(t, NodeDirectory, db.Type)
	assert.Equal(t, "db", db.Path)
	assert.Equal(t, "a.ps1", ops.Children[1].Name)
	assert.Equal(t, "z.ps1", ops.Children[2].Name)

	require.Len(t, db.Children, 2)
	assert.Equal(t, "sub", db.Children[0].Name)
	assert.Equal(t, "db/sub", db.Children[0].Path)
	assert.Equal(t, "backup.sh", db.Children[1].Name)
	require.NotNil(t, db.Children[1].Script)
	assert.Equal(t, "db/backup.sh", db.Children[1].Script.RelativePath)

	assert.Equal(t, "tools", tree[1].Name)
}

func TestBuildTreeEmpty(t *testing.T) {
	tree := BuildTree(nil)
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}
