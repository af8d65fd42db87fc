package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
	"github.com/scriptdeck/scriptdeck/internal/gitrepo"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

// testEnv wires a real registry and broadcaster behind the router.
type testEnv struct {
	router      *gin.Engine
	registry    *process.Registry
	broadcaster *events.Broadcaster
	repos       *fakeRepos
}

func newTestEnv(t *testing.T, scripts ScriptCatalog) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, scripts, process.Options{})
}

func newTestEnvWithOptions(t *testing.T, scripts ScriptCatalog, opts process.Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := newTestLogger(t)

	opts.KillGracePeriod = 500 * time.Millisecond
	opts.CompletedRetention = time.Minute
	b := events.NewBroadcaster(log, 256)
	reg := process.NewRegistry(b, nil, log, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
		b.Close()
	})

	repos := newFakeRepos()
	router := NewRouter(Deps{
		Processes:    reg,
		Events:       b,
		Scripts:      scripts,
		Repositories: repos,
		Shell:        "pwsh",
		Heartbeat:    time.Second,
	}, log)
	return &testEnv{router: router, registry: reg, broadcaster: b, repos: repos}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type processInfoResponse struct {
	Info   process.ProcessRecord  `json:"info"`
	Output []process.OutputChunk `json:"output"`
}

// waitTerminal polls the info endpoint until the process is terminal.
func (e *testEnv) waitTerminal(t *testing.T, id string) processInfoResponse {
	t.Helper()
	var resp processInfoResponse
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/processes/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		resp = decode[processInfoResponse](t, w)
		return resp.Info.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
	return resp
}

// fakeRepos is an in-memory RepositoryService. Names listed in private
// require a token to clone or update.
type fakeRepos struct {
	mu         sync.Mutex
	repos      map[string]gitrepo.RepositoryInfo
	private    map[string]bool
	lastToken  string
	lastUpdate string
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{repos: make(map[string]gitrepo.RepositoryInfo), private: make(map[string]bool)}
}

func (f *fakeRepos) List(context.Context) ([]gitrepo.RepositoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []gitrepo.RepositoryInfo{}
	for _, r := range f.repos {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepos) Clone(_ context.Context, req gitrepo.CloneRequest) (*gitrepo.RepositoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = req.Token
	if req.URL == "" {
		return nil, apperrors.ValidationError("url", "url is required")
	}
	name := req.Name
	if name == "" {
		name = "priv"
	}
	if _, ok := f.repos[name]; ok {
		return nil, apperrors.Conflict("repository " + name + " already exists")
	}
	if f.private[name] && req.Token == "" {
		return nil, apperrors.AuthenticationRequired("git clone requires authentication: Authentication failed", nil)
	}
	info := gitrepo.RepositoryInfo{Name: name, URL: req.URL, Path: "/repos/" + name, Branch: "main", Status: gitrepo.StatusClean, CreatedAt: time.Now().UTC()}
	f.repos[name] = info
	return &info, nil
}

func (f *fakeRepos) Update(_ context.Context, name, token string) (*gitrepo.RepositoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = name
	f.lastToken = token
	info, ok := f.repos[name]
	if !ok {
		return nil, apperrors.NotFound("repository", name)
	}
	if f.private[name] && token == "" {
		return nil, apperrors.AuthenticationRequired("git pull requires authentication", nil)
	}
	now := time.Now().UTC()
	info.LastSyncedAt = &now
	f.repos[name] = info
	return &info, nil
}

func (f *fakeRepos) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[name]; !ok {
		return apperrors.NotFound("repository", name)
	}
	delete(f.repos, name)
	return nil
}

func (f *fakeRepos) Status(_ context.Context, name string) (*gitrepo.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[name]; !ok {
		return nil, apperrors.NotFound("repository", name)
	}
	return &gitrepo.StatusReport{Status: gitrepo.StatusBehind, Behind: 2}, nil
}
