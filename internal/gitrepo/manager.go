// Package gitrepo manages script repositories cloned from external git
// remotes. The Manager is the only writer of the repository registry.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/tracing"
)

const tracerName = "scriptdeck/gitrepo"

// statusTimeout bounds the local status commands.
const statusTimeout = 15 * time.Second

// Store persists the repository registry.
type Store interface {
	List(ctx context.Context) ([]RepositoryInfo, error)
	// Get returns a NotFound AppError for an unknown name.
	Get(ctx context.Context, name string) (*RepositoryInfo, error)
	// Create returns a Conflict AppError when the name is taken.
	Create(ctx context.Context, info *RepositoryInfo) error
	Update(ctx context.Context, info *RepositoryInfo) error
	Delete(ctx context.Context, name string) error
}

// Manager clones, updates and removes script repositories under a base
// directory.
type Manager struct {
	store        Store
	basePath     string
	defaultDepth int
	timeout      time.Duration
	logger       *logger.Logger

	// repoMus maps a clone path to its *sync.Mutex so pulls and removal of
	// the same repository never overlap.
	repoMus sync.Map

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewManager creates a manager rooted at cfg.BasePath.
func NewManager(cfg config.GitConfig, store Store, log *logger.Logger) (*Manager, error) {
	base, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, err
	}
	base, err = filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git base path: %w", err)
	}
	return &Manager{
		store:        store,
		basePath:     base,
		defaultDepth: cfg.DefaultDepth,
		timeout:      cfg.TimeoutDuration(),
		logger:       log.WithFields(zap.String("component", "git-manager")),
		pending:      make(map[string]struct{}),
	}, nil
}

// BasePath returns the directory repositories are cloned into.
func (m *Manager) BasePath() string {
	return m.basePath
}

func (m *Manager) repoMu(path string) *sync.Mutex {
	mu, _ := m.repoMus.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex) //nolint:forcetypeassert // LoadOrStore always stores *sync.Mutex
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// List returns every registered repository.
func (m *Manager) List(ctx context.Context) ([]RepositoryInfo, error) {
	return m.store.List(ctx)
}

// Get returns one repository by name.
func (m *Manager) Get(ctx context.Context, name string) (*RepositoryInfo, error) {
	return m.store.Get(ctx, name)
}

// reserve claims name for an in-flight clone. The returned func releases it.
func (m *Manager) reserve(ctx context.Context, name string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.pending[name]; busy {
		return nil, apperrors.Conflict(fmt.Sprintf("repository %s is already being cloned", name))
	}
	_, err := m.store.Get(ctx, name)
	if err == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("repository %s already exists", name))
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	m.pending[name] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.pending, name)
		m.mu.Unlock()
	}, nil
}

// Clone clones req.URL into the base directory and registers it. The name
// defaults to the last URL path segment. An existing name or directory is
// rejected before anything on disk is touched. req.Token is used for this
// clone only.
func (m *Manager) Clone(ctx context.Context, req CloneRequest) (_ *RepositoryInfo, err error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, apperrors.ValidationError("url", "url is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = deriveName(rawURL)
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if req.Depth < 0 {
		return nil, apperrors.ValidationError("depth", "depth must not be negative")
	}
	depth := req.Depth
	if depth == 0 {
		depth = m.defaultDepth
	}

	release, err := m.reserve(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	target := filepath.Join(m.basePath, name)
	if _, statErr := os.Lstat(target); statErr == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("directory %s already exists", target))
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, apperrors.TransportFailure(fmt.Sprintf("failed to inspect %s", target), statErr)
	}

	cleanURL := redactURL(rawURL)
	ctx, span := tracing.StartSpan(ctx, tracerName, "git.clone",
		attribute.String("repository.name", name),
		attribute.String("repository.url", cleanURL),
		attribute.Int("git.depth", depth),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if err := os.MkdirAll(m.basePath, 0o755); err != nil {
		return nil, apperrors.TransportFailure("failed to create git base directory", err)
	}

	mu := m.repoMu(target)
	mu.Lock()
	defer mu.Unlock()

	log := m.logger.WithContext(ctx).WithRepository(name)
	log.Info("cloning repository",
		zap.String("url", cleanURL),
		zap.String("target", target),
		zap.Bool("with_token", req.Token != ""))

	gitCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	args := []string{"clone", "--quiet"}
	if req.Branch != "" {
		args = append(args, "--branch", req.Branch)
	}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, "--", rawURL, target)

	res, runErr := runGit(gitCtx, m.basePath, req.Token, args...)
	if runErr != nil {
		// target did not exist before this clone, so anything there is ours.
		_ = os.RemoveAll(target)
		cloneErr := classifyGitError(gitCtx, "clone", res, runErr)
		log.Warn("git clone failed",
			zap.String("url", cleanURL),
			zap.Bool("auth_required", apperrors.IsAuthenticationRequired(cloneErr)),
			zap.Error(cloneErr))
		return nil, cloneErr
	}

	if cleanURL != rawURL {
		if res, err := runGit(gitCtx, target, "", "remote", "set-url", "origin", cleanURL); err != nil {
			_ = os.RemoveAll(target)
			return nil, classifyGitError(gitCtx, "remote set-url", res, err)
		}
	}

	now := time.Now().UTC()
	info := &RepositoryInfo{
		Name:         name,
		URL:          cleanURL,
		Path:         target,
		Branch:       req.Branch,
		LastSyncedAt: &now,
		CreatedAt:    now,
	}
	if info.Branch == "" {
		info.Branch = currentBranch(ctx, target)
	}
	m.applyStatus(info, m.computeStatus(ctx, target))

	if err := m.store.Create(ctx, info); err != nil {
		_ = os.RemoveAll(target)
		return nil, err
	}

	log.Info("repository cloned",
		zap.String("branch", info.Branch),
		zap.String("status", string(info.Status)))
	return info, nil
}

// Update pulls the latest changes. A failed pull is recorded on the
// repository as LastError and returned to the caller.
func (m *Manager) Update(ctx context.Context, name, token string) (_ *RepositoryInfo, err error) {
	info, err := m.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "git.pull",
		attribute.String("repository.name", name),
		attribute.String("repository.url", info.URL),
	)
	defer func() { tracing.EndSpan(span, err) }()

	log := m.logger.WithContext(ctx).WithRepository(name)
	mu := m.repoMu(info.Path)
	mu.Lock()
	defer mu.Unlock()

	gitCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	res, runErr := runGit(gitCtx, info.Path, token, "pull", "--ff-only", "--quiet")
	// Status and bookkeeping still run when the pull timed out.
	bgCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		pullErr := classifyGitError(gitCtx, "pull", res, runErr)
		info.LastError = errorMessage(pullErr)
		m.applyStatus(info, m.computeStatus(bgCtx, info.Path))
		if storeErr := m.store.Update(bgCtx, info); storeErr != nil {
			log.WithError(storeErr).Error("failed to record pull failure")
		}
		log.Warn("git pull failed",
			zap.Bool("auth_required", apperrors.IsAuthenticationRequired(pullErr)),
			zap.Error(pullErr))
		return nil, pullErr
	}

	now := time.Now().UTC()
	info.LastSyncedAt = &now
	info.LastError = ""
	if branch := currentBranch(bgCtx, info.Path); branch != "" {
		info.Branch = branch
	}
	m.applyStatus(info, m.computeStatus(bgCtx, info.Path))
	if err := m.store.Update(bgCtx, info); err != nil {
		return nil, err
	}

	log.Info("repository updated", zap.String("status", string(info.Status)))
	return info, nil
}

// Remove deletes the local clone and the registry entry.
func (m *Manager) Remove(ctx context.Context, name string) error {
	info, err := m.store.Get(ctx, name)
	if err != nil {
		return err
	}

	// The path's mutex stays in repoMus: a queued Update may already hold
	// this one, and a later Clone of the same path must contend with it.
	mu := m.repoMu(info.Path)
	mu.Lock()
	defer mu.Unlock()

	if !m.owns(info.Path) {
		return apperrors.InternalError(fmt.Sprintf("repository %s is outside %s", name, m.basePath), nil)
	}
	if err := os.RemoveAll(info.Path); err != nil {
		return apperrors.TransportFailure(fmt.Sprintf("failed to delete %s", info.Path), err)
	}
	if err := m.store.Delete(ctx, name); err != nil {
		return err
	}

	m.logger.WithContext(ctx).WithRepository(name).Info("repository removed", zap.String("path", info.Path))
	return nil
}

// Status checks the working tree against its upstream without touching
// the network. The refreshed status is saved on the repository.
func (m *Manager) Status(ctx context.Context, name string) (*StatusReport, error) {
	info, err := m.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	report := m.computeStatus(ctx, info.Path)
	if report.Status != info.Status || report.Ahead != info.Ahead || report.Behind != info.Behind {
		m.applyStatus(info, report)
		if err := m.store.Update(ctx, info); err != nil {
			m.logger.WithRepository(name).WithError(err).Warn("failed to save repository status")
		}
	}
	return &report, nil
}

// owns reports whether path is strictly inside the base directory.
func (m *Manager) owns(path string) bool {
	rel, err := filepath.Rel(m.basePath, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

func (m *Manager) applyStatus(info *RepositoryInfo, report StatusReport) {
	info.Status = report.Status
	info.Ahead = report.Ahead
	info.Behind = report.Behind
}

func (m *Manager) computeStatus(ctx context.Context, repoPath string) StatusReport {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	res, err := runGit(ctx, repoPath, "", "status", "--porcelain")
	if err != nil {
		m.logger.Debug("git status failed",
			zap.String("path", repoPath),
			zap.String("stderr", strings.TrimSpace(res.stderr)),
			zap.Error(err))
		return StatusReport{Status: StatusUnknown}
	}
	dirty := strings.TrimSpace(res.stdout) != ""

	ahead, behind := 0, 0
	res, err = runGit(ctx, repoPath, "", "rev-list", "--left-right", "--count", "HEAD...@{upstream}")
	if err == nil {
		if a, b, parseErr := parseAheadBehind(res.stdout); parseErr == nil {
			ahead, behind = a, b
		}
	}
	return StatusReport{Status: summarize(dirty, ahead, behind), Ahead: ahead, Behind: behind}
}

func currentBranch(ctx context.Context, repoPath string) string {
	res, err := runGit(ctx, repoPath, "", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(res.stdout)
	if branch == "HEAD" {
		return ""
	}
	return branch
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
