// Package catalog discovers runnable scripts in configured folders and
// cloned git repositories. It never mutates anything on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/config"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
)

// maxConcurrentScans bounds how many roots AllScripts walks at once.
const maxConcurrentScans = 4

// RepositoryLister supplies the cloned repositories to catalog.
type RepositoryLister interface {
	List(ctx context.Context) ([]gitrepo.RepositoryInfo, error)
}

// root is one scan root: a configured folder or a cloned repository.
type root struct {
	name string
	path string
	repo *gitrepo.RepositoryInfo
}

// Catalog answers which scripts exist and where.
type Catalog struct {
	folders    []config.ScriptFolder
	repos      RepositoryLister
	extensions map[string]struct{}
	ignoreDirs map[string]struct{}
	maxDepth   int
	logger     *logger.Logger
}

// New creates a catalog over the configured folders and the repositories
// returned by repos. repos may be nil.
func New(cfg config.ScriptsConfig, repos RepositoryLister, log *logger.Logger) (*Catalog, error) {
	c := &Catalog{
		repos:      repos,
		extensions: make(map[string]struct{}, len(cfg.Extensions)),
		ignoreDirs: make(map[string]struct{}, len(cfg.IgnoreDirs)),
		maxDepth:   cfg.MaxDepth,
		logger:     log.WithFields(zap.String("component", "script-catalog")),
	}
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions[ext] = struct{}{}
	}
	for _, dir := range cfg.IgnoreDirs {
		c.ignoreDirs[dir] = struct{}{}
	}
	for _, f := range cfg.Folders {
		p, err := config.ExpandHome(f.Path)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve folder %s: %w", f.Name, err)
		}
		c.folders = append(c.folders, config.ScriptFolder{Name: f.Name, Path: abs})
	}
	return c, nil
}

func (c *Catalog) roots(ctx context.Context) ([]root, error) {
	roots := make([]root, 0, len(c.folders))
	for _, f := range c.folders {
		roots = append(roots, root{name: f.Name, path: f.Path})
	}
	if c.repos == nil {
		return roots, nil
	}
	repos, err := c.repos.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range repos {
		repo := repos[i]
		roots = append(roots, root{name: repo.Name, path: repo.Path, repo: &repo})
	}
	return roots, nil
}

// ListFolders returns every configured folder and cloned repository.
func (c *Catalog) ListFolders(ctx context.Context) ([]Folder, error) {
	roots, err := c.roots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Folder, 0, len(roots))
	for _, r := range roots {
		folder := Folder{Name: r.name, Path: r.path, IsGitRepo: r.repo != nil || isGitDir(r.path)}
		if m, err := loadManifest(r.path); err == nil {
			folder.Description = m.Description
		}
		out = append(out, folder)
	}
	return out, nil
}

// ListScriptsInFolder scans one named root.
func (c *Catalog) ListScriptsInFolder(ctx context.Context, folderName string) ([]ScriptDescriptor, error) {
	roots, err := c.roots(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		if r.name == folderName {
			return c.ScanForScripts(ctx, r.path, r.name, r.repo)
		}
	}
	return nil, apperrors.NotFound("folder", folderName)
}

// ScanForScripts walks rootPath recursively and parses every file with a
// configured extension. Unreadable subdirectories and unparsable files are
// skipped or degraded individually; only a missing or unreadable root fails.
func (c *Catalog) ScanForScripts(ctx context.Context, rootPath, category string, repo *gitrepo.RepositoryInfo) ([]ScriptDescriptor, error) {
	info, err := os.Stat(rootPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("folder path", rootPath)
	}
	if err != nil {
		return nil, apperrors.TransportFailure(fmt.Sprintf("failed to read %s", rootPath), err)
	}
	if !info.IsDir() {
		return nil, apperrors.ValidationError("path", fmt.Sprintf("%s is not a directory", rootPath))
	}

	manifest, err := loadManifest(rootPath)
	if err != nil {
		c.logger.Warn("ignoring invalid manifest", zap.String("root", rootPath), zap.Error(err))
		manifest = &Manifest{}
	}

	scripts := []ScriptDescriptor{}
	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == rootPath {
				return walkErr
			}
			c.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)

		if d.IsDir() {
			if _, ignored := c.ignoreDirs[d.Name()]; ignored || manifest.excludes(slashRel) {
				return fs.SkipDir
			}
			if c.maxDepth > 0 && strings.Count(slashRel, "/")+1 >= c.maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !c.hasScriptExtension(path) || manifest.excludes(slashRel) {
			return nil
		}
		scripts = append(scripts, ParseScript(path, rel, category, repo))
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.TransportFailure(fmt.Sprintf("failed to scan %s", rootPath), err)
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].RelativePath < scripts[j].RelativePath })
	return scripts, nil
}

// AllScripts scans every folder and repository concurrently and returns
// the merged list with its presentation tree. A root whose directory is
// missing is logged and skipped.
func (c *Catalog) AllScripts(ctx context.Context) (*AllScripts, error) {
	roots, err := c.roots(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]ScriptDescriptor, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScans)
	for i, r := range roots {
		i, r := i, r
		g.Go(func() error {
			scripts, err := c.ScanForScripts(gctx, r.path, r.name, r.repo)
			if apperrors.IsNotFound(err) {
				c.logger.Warn("script root missing", zap.String("root", r.name), zap.String("path", r.path))
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = scripts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := []ScriptDescriptor{}
	for _, scripts := range results {
		all = append(all, scripts...)
	}
	return &AllScripts{Scripts: all, Tree: BuildTree(all)}, nil
}

// Preview parses a single script without registering it. The descriptor is
// identical to the one a scan of its root produces.
func (c *Catalog) Preview(ctx context.Context, req PreviewRequest) (*ScriptDescriptor, error) {
	if req.ScriptPath == "" {
		return nil, apperrors.ValidationError("scriptPath", "scriptPath is required")
	}
	abs, err := filepath.Abs(req.ScriptPath)
	if err != nil {
		return nil, apperrors.ValidationError("scriptPath", err.Error())
	}
	if err := requireFile(abs); err != nil {
		return nil, err
	}

	roots, err := c.roots(ctx)
	if err != nil {
		return nil, err
	}

	candidates := roots
	if req.Repository != "" {
		candidates = nil
		for i := range roots {
			if roots[i].repo != nil && roots[i].name == req.Repository {
				candidates = roots[i : i+1]
				break
			}
		}
		if candidates == nil {
			return nil, apperrors.NotFound("repository", req.Repository)
		}
	}

	owner, ownerRel := containingRoot(candidates, abs)
	if owner == nil && req.Repository != "" {
		return nil, apperrors.ValidationError("scriptPath",
			fmt.Sprintf("script is not inside repository %s", req.Repository))
	}

	rel := req.RelativePath
	category := ""
	var repo *gitrepo.RepositoryInfo
	if owner != nil {
		category = owner.name
		repo = owner.repo
		if rel == "" {
			rel = ownerRel
		}
	}
	if rel == "" {
		rel = filepath.Base(abs)
	}

	desc := ParseScript(abs, rel, category, repo)
	return &desc, nil
}

// Resolve locates a script for execution. The path must be a regular file
// with a configured extension inside a folder or repository root.
func (c *Catalog) Resolve(ctx context.Context, scriptPath string) (*ScriptDescriptor, error) {
	if scriptPath == "" {
		return nil, apperrors.ValidationError("scriptPath", "scriptPath is required")
	}
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, apperrors.ValidationError("scriptPath", err.Error())
	}
	roots, err := c.roots(ctx)
	if err != nil {
		return nil, err
	}

	owner, rel := containingRoot(roots, abs)
	if owner == nil {
		return nil, apperrors.ValidationError("scriptPath", "script is not inside a configured folder or repository")
	}
	if !c.hasScriptExtension(abs) {
		return nil, apperrors.ValidationError("scriptPath", fmt.Sprintf("unsupported script type %q", filepath.Ext(abs)))
	}
	if err := requireFile(abs); err != nil {
		return nil, err
	}

	desc := ParseScript(abs, rel, owner.name, owner.repo)
	return &desc, nil
}

func (c *Catalog) hasScriptExtension(path string) bool {
	_, ok := c.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// containingRoot returns the root whose directory contains abs, after
// resolving symlinks on both sides, and the path relative to it.
func containingRoot(roots []root, abs string) (*root, string) {
	target := resolveLinks(abs)
	for i := range roots {
		base := resolveLinks(roots[i].path)
		rel, err := filepath.Rel(base, target)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return &roots[i], rel
	}
	return nil, ""
}

func resolveLinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

func requireFile(abs string) error {
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return apperrors.NotFound("script", abs)
	}
	if err != nil {
		return apperrors.TransportFailure(fmt.Sprintf("failed to read %s", abs), err)
	}
	if !info.Mode().IsRegular() {
		return apperrors.ValidationError("scriptPath", fmt.Sprintf("%s is not a file", abs))
	}
	return nil
}

func isGitDir(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}
