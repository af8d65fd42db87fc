// Package api exposes the process registry, the event stream, the script
// catalog and the git repository manager over HTTP.
package api

import (
	"context"

	"github.com/scriptdeck/scriptdeck/internal/catalog"
	"github.com/scriptdeck/scriptdeck/internal/events"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

// ProcessService is the subset of *process.Registry used by the handlers.
type ProcessService interface {
	Start(ctx context.Context, req process.StartRequest) (string, error)
	GetInfo(ctx context.Context, id string) (*process.ProcessRecord, error)
	GetOutput(ctx context.Context, id string) ([]process.OutputChunk, error)
	Write(ctx context.Context, id, input string) error
	Resize(ctx context.Context, id string, cols, rows uint16) error
	Kill(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]process.ProcessRecord, error)
	History(ctx context.Context, limit int) ([]process.ProcessRecord, error)
}

// EventSource hands out observers of the broadcast channel.
type EventSource interface {
	Attach() *events.Observer
	Detach(obs *events.Observer)
}

// ScriptCatalog is the subset of *catalog.Catalog used by the handlers.
type ScriptCatalog interface {
	ListFolders(ctx context.Context) ([]catalog.Folder, error)
	ListScriptsInFolder(ctx context.Context, folderName string) ([]catalog.ScriptDescriptor, error)
	AllScripts(ctx context.Context) (*catalog.AllScripts, error)
	Preview(ctx context.Context, req catalog.PreviewRequest) (*catalog.ScriptDescriptor, error)
	Resolve(ctx context.Context, scriptPath string) (*catalog.ScriptDescriptor, error)
}

// RepositoryService is the subset of *gitrepo.Manager used by the handlers.
type RepositoryService interface {
	List(ctx context.Context) ([]gitrepo.RepositoryInfo, error)
	Clone(ctx context.Context, req gitrepo.CloneRequest) (*gitrepo.RepositoryInfo, error)
	Update(ctx context.Context, name, token string) (*gitrepo.RepositoryInfo, error)
	Remove(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (*gitrepo.StatusReport, error)
}

var (
	_ ProcessService    = (*process.Registry)(nil)
	_ EventSource       = (*events.Broadcaster)(nil)
	_ ScriptCatalog     = (*catalog.Catalog)(nil)
	_ RepositoryService = (*gitrepo.Manager)(nil)
)
