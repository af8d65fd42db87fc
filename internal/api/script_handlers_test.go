//go:build !windows

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/catalog"
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

func newScriptEnv(t *testing.T) (*testEnv, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ops")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.sh"),
		[]byte("#!/bin/sh\n# Synopsis: Print a greeting\n# Param: who - whom to greet\necho \"hello ${1:-world} from $(basename \"$PWD\")\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db", "backup.sh"), []byte("echo backup\n"), 0o644))

	cat, err := catalog.New(config.ScriptsConfig{
		Folders:    []config.ScriptFolder{{Name: "ops", Path: dir}},
		Extensions: []string{".ps1", ".sh", ".py"},
		MaxDepth:   5,
	}, nil, newTestLogger(t))
	require.NoError(t, err)
	return newTestEnv(t, cat), dir
}

func TestListFoldersAndScripts(t *testing.T) {
	env, dir := newScriptEnv(t)

	w := env.do(t, http.MethodGet, "/api/scripts/folders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	folders := decode[struct {
		Folders []catalog.Folder `json:"folders"`
	}](t, w).Folders
	require.Len(t, folders, 1)
	assert.Equal(t, "ops", folders[0].Name)
	assert.Equal(t, dir, folders[0].Path)

	w = env.do(t, http.MethodGet, "/api/scripts/folders/ops", nil)
	require.Equal(t, http.StatusOK, w.Code)
	scripts := decode[struct {
		Scripts []catalog.ScriptDescriptor `json:"scripts"`
	}](t, w).Scripts
	require.Len(t, scripts, 2)
	assert.Equal(t, "db/backup.sh", scripts[0].RelativePath)

	w = env.do(t, http.MethodGet, "/api/scripts/folders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/scripts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[catalog.AllScripts](t, w)
	assert.Len(t, all.Scripts, 2)
	require.Len(t, all.Tree, 1)
	assert.Equal(t, "ops", all.Tree[0].Name)
}

func TestPreviewScript(t *testing.T) {
	env, dir := newScriptEnv(t)

	w := env.do(t, http.MethodPost, "/api/scripts/preview", catalog.PreviewRequest{ScriptPath: filepath.Join(dir, "hello.sh")})
	require.Equal(t, http.StatusOK, w.Code)
	script := decode[struct {
		Script catalog.ScriptDescriptor `json:"script"`
	}](t, w).Script
	assert.Equal(t, "hello.sh", script.RelativePath)
	assert.Equal(t, "ops", script.Category)
	require.NotNil(t, script.Synopsis)
	assert.Equal(t, "Print a greeting", *script.Synopsis)
	require.Len(t, script.Parameters, 1)
	assert.Equal(t, "who", script.Parameters[0].Name)

	w = env.do(t, http.MethodPost, "/api/scripts/preview", catalog.PreviewRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/scripts/preview", catalog.PreviewRequest{ScriptPath: filepath.Join(dir, "gone.sh")})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunScript(t *testing.T) {
	env, dir := newScriptEnv(t)

	w := env.do(t, http.MethodPost, "/api/scripts/run", map[string]any{
		"scriptPath": filepath.Join(dir, "hello.sh"),
		"args":       []string{"team"},
		"user":       "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[startResponse](t, w).ProcessID

	resp := env.waitTerminal(t, id)
	assert.Equal(t, process.StatusCompleted, resp.Info.Status)
	assert.Equal(t, "sh", resp.Info.Command)
	assert.Equal(t, dir, resp.Info.Cwd)
	require.NotNil(t, resp.Info.User)
	assert.Equal(t, "alice", *resp.Info.User)
	var out strings.Builder
	for _, chunk := range resp.Output {
		out.WriteString(chunk.Data)
	}
	assert.Equal(t, "hello team from ops\n", out.String())
}

func TestRunScriptOutsideCatalogIsRejected(t *testing.T) {
	env, _ := newScriptEnv(t)
	outside := filepath.Join(t.TempDir(), "evil.sh")
	require.NoError(t, os.WriteFile(outside, []byte("echo pwned\n"), 0o644))

	w := env.do(t, http.MethodPost, "/api/scripts/run", map[string]any{"scriptPath": outside})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[errorResponse](t, w).Code)

	w = env.do(t, http.MethodGet, "/api/processes", nil)
	assert.Empty(t, decode[listResponse](t, w).Processes)
}
