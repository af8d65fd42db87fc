package gitrepo

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	mu    sync.Mutex
	repos map[string]RepositoryInfo
}

func newMemoryStore() *memoryStore {
	return &memoryStore{repos: make(map[string]RepositoryInfo)}
}

func (s *memoryStore) List(context.Context) ([]RepositoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RepositoryInfo, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, name string) (*RepositoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[name]
	if !ok {
		return nil, apperrors.NotFound("repository", name)
	}
	return &r, nil
}

func (s *memoryStore) Create(_ context.Context, info *RepositoryInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[info.Name]; ok {
		return apperrors.Conflict(fmt.Sprintf("repository %s already exists", info.Name))
	}
	s.repos[info.Name] = *info
	return nil
}

func (s *memoryStore) Update(_ context.Context, info *RepositoryInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[info.Name]; !ok {
		return apperrors.NotFound("repository", info.Name)
	}
	s.repos[info.Name] = *info
	return nil
}

func (s *memoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[name]; !ok {
		return apperrors.NotFound("repository", name)
	}
	delete(s.repos, name)
	return nil
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	m, err := NewManager(config.GitConfig{BasePath: t.TempDir(), Timeout: 60}, store, newTestLogger(t))
	require.NoError(t, err)
	return m
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// git runs a git command for test setup with a fixed identity.
func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-c", "user.name=Test",
		"-c", "user.email=test@example.com",
		"-c", "commit.gpgsign=false",
		"-c", "init.defaultBranch=main",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}
