package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
)

// Tool is a scriptable adapter.Tool backed by a Server.
type Tool struct {
	ToolName string
	Versions []adapter.Version
	BaseURL  string
	// Sums maps version to the published checksum; absent means none.
	Sums     map[string]string
	Bins     []adapter.Binary
	ListErr  error
	PostErr  error

	mu        sync.Mutex
	listCalls int
	postCalls int
}

func (f *Tool) Name() string { return f.ToolName }

func (f *Tool) ListRemote(ctx context.Context) ([]adapter.Version, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := append([]adapter.Version(nil), f.Versions...)
	adapter.SortVersions(out)
	return out, nil
}

// ArchiveName is the file the tool downloads for version.
func (f *Tool) ArchiveName(version string) string {
	return f.ToolName + "-" + version + ".tar.gz"
}

func (f *Tool) DownloadURL(ctx context.Context, version string) (string, error) {
	return f.BaseURL + "/" + f.ArchiveName(version), nil
}

func (f *Tool) Checksum(ctx context.Context, version string) (string, error) {
	return f.Sums[version], nil
}

func (f *Tool) Binaries() []adapter.Binary {
	if f.Bins == nil {
		return []adapter.Binary{{Name: f.ToolName, Subpath: "bin"}}
	}
	return f.Bins
}

func (f *Tool) PostInstall(ctx context.Context, installDir string) error {
	f.mu.Lock()
	f.postCalls++
	f.mu.Unlock()
	return f.PostErr
}

func (f *Tool) ResolveAlias(alias string, listing []adapter.Version) (string, bool) {
	if alias == "latest" && len(listing) > 0 {
		return listing[0].Version, true
	}
	return "", false
}

// ListCalls returns how often ListRemote ran.
func (f *Tool) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// PostInstallCalls returns how often PostInstall ran.
func (f *Tool) PostInstallCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postCalls
}

// Server serves archives by file name and counts requests.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  atomic.Int64
}

// NewServer starts a server for files; it is closed with the test.
func NewServer(t *testing.T, files map[string][]byte) *Server {
	t.Helper()
	s := &Server{files: make(map[string][]byte)}
	for k, v := range files {
		s.files[k] = v
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		body, ok := s.files[strings.TrimPrefix(r.URL.Path, "/")]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// Put adds or replaces a file.
func (s *Server) Put(name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = body
}

// Hits returns the number of requests served.
func (s *Server) Hits() int64 { return s.hits.Load() }

// NodeLikeTool returns a Tool named name serving a single archive for
// version, with bin/<name> inside a "<name>-<version>/" top-level dir.
// The archive is published with its correct checksum.
func NodeLikeTool(t *testing.T, name, version string) (*Tool, *Server) {
	t.Helper()
	top := name + "-" + version
	archive := TarGz(t,
		Dir(top+"/"),
		Dir(top+"/bin/"),
		Exec(top+"/bin/"+name, "#!/bin/sh\necho "+version+"\n"),
		File(top+"/README", "hello"),
	)

	tool := &Tool{
		ToolName: name,
		Versions: []adapter.Version{{Version: version}},
		Sums:     map[string]string{version: SHA256Hex(archive)},
	}
	srv := NewServer(t, map[string][]byte{tool.ArchiveName(version): archive})
	tool.BaseURL = srv.URL
	return tool, srv
}
