package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
	"github.com/ZebulonRouseFrantzich/zvm/internal/verify"
)

// PluginError reports a plugin that failed to load or evaluate.
type PluginError struct {
	Path    string
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *PluginError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("plugin %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("plugin %s: %s: %s", e.Path, e.Message, e.Detail)
}

// Plugin is a Tool described by a sandboxed Lua file. The file defines a
// global "plugin" table:
//
//	plugin = {
//	  name = "zig",
//	  versions = { "0.13.0", "0.12.1" },          -- or a function returning the list
//	  download_url = function(v) return "..." end,
//	  checksum = function(v) return "..." end,    -- optional
//	  checksums_url = function(v) return "..." end, -- optional, sha256sum format
//	  signature = { kind = "minisign", url = function(v) return "..." end, key = "RW..." },
//	                -- kind is optional; it is then read from the signature file
//	  binaries = { { name = "zig", subpath = "." } },
//	}
//
// A Plugin serializes access to its interpreter.
type Plugin struct {
	name     string
	path     string
	client   *http.Client
	binaries []Binary

	signed  bool
	sigKind verify.SignatureKind // empty: detected per signature
	sigKey  []byte

	mu    sync.Mutex
	L     *lua.LState
	table *lua.LTable
}

// LoadPlugin evaluates the plugin at path with the platform table for info.
func LoadPlugin(path string, info *platform.Info, client *http.Client) (*Plugin, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin: %w", err)
	}

	L := newSandboxedVM()
	if err := platform.InjectPlatformTable(L, info); err != nil {
		L.Close()
		return nil, fmt.Errorf("inject platform table: %w", err)
	}
	if err := L.DoString(string(code)); err != nil {
		L.Close()
		return nil, &PluginError{Path: path, Message: "Lua error", Detail: err.Error()}
	}

	p, err := extractPlugin(L, path)
	if err != nil {
		L.Close()
		return nil, err
	}
	p.client = client
	return p, nil
}

// LoadPlugins loads every *.lua file in dir. Plugins that fail to load are
// logged and skipped. A missing dir yields no plugins.
func LoadPlugins(dir string, info *platform.Info, client *http.Client, logger config.Logger) []*Plugin {
	logger = config.OrNop(logger)

	matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		logger.Warn("Failed to list plugins", "dir", dir, "error", err)
		return nil
	}
	sort.Strings(matches)

	var plugins []*Plugin
	for _, m := range matches {
		p, err := LoadPlugin(m, info, client)
		if err != nil {
			logger.Warn("Skipping plugin", "path", m, "error", err)
			continue
		}
		logger.Debug("Loaded plugin", "name", p.Name(), "path", m)
		plugins = append(plugins, p)
	}
	return plugins
}

func extractPlugin(L *lua.LState, file string) (*Plugin, error) {
	v := L.GetGlobal("plugin")
	table, ok := v.(*lua.LTable)
	if !ok {
		return nil, &PluginError{
			Path:    file,
			Message: "missing or invalid 'plugin' table",
			Detail:  fmt.Sprintf("expected table, got %s", v.Type()),
		}
	}

	stem := strings.TrimSuffix(filepath.Base(file), ".lua")
	name := stem
	if nv := table.RawGetString("name"); nv.Type() == lua.LTString {
		name = nv.String()
	}
	if name != stem {
		return nil, &PluginError{Path: file, Message: fmt.Sprintf("name %q does not match file name", name)}
	}
	if err := ValidateName(name); err != nil {
		return nil, &PluginError{Path: file, Message: "invalid name", Detail: err.Error()}
	}

	if table.RawGetString("download_url").Type() != lua.LTFunction {
		return nil, &PluginError{Path: file, Message: "download_url must be a function"}
	}
	switch table.RawGetString("versions").Type() {
	case lua.LTTable, lua.LTFunction:
	default:
		return nil, &PluginError{Path: file, Message: "versions must be a list or a function"}
	}

	binaries, err := extractBinaries(table)
	if err != nil {
		return nil, &PluginError{Path: file, Message: "invalid binaries", Detail: err.Error()}
	}

	p := &Plugin{name: name, path: file, binaries: binaries, L: L, table: table}

	if sv := table.RawGetString("signature"); sv.Type() == lua.LTTable {
		sig := sv.(*lua.LTable)
		p.signed = true
		p.sigKind = verify.SignatureKind(lua.LVAsString(sig.RawGetString("kind")))
		p.sigKey = []byte(lua.LVAsString(sig.RawGetString("key")))
		if p.sigKind != "" && p.sigKind != verify.KindMinisign && p.sigKind != verify.KindPGP {
			return nil, &PluginError{Path: file, Message: fmt.Sprintf("unsupported signature kind %q", p.sigKind)}
		}
		if len(p.sigKey) == 0 || sig.RawGetString("url").Type() != lua.LTFunction {
			return nil, &PluginError{Path: file, Message: "signature needs a key and a url function"}
		}
	}
	return p, nil
}

func extractBinaries(table *lua.LTable) ([]Binary, error) {
	bv, ok := table.RawGetString("binaries").(*lua.LTable)
	if !ok {
		return nil, errors.New("binaries must be a list")
	}

	var bins []Binary
	var firstErr error
	bv.ForEach(func(_, value lua.LValue) {
		entry, ok := value.(*lua.LTable)
		if !ok {
			return
		}
		b := Binary{
			Name:    lua.LVAsString(entry.RawGetString("name")),
			Subpath: lua.LVAsString(entry.RawGetString("subpath")),
		}
		if b.Subpath == "" {
			b.Subpath = "bin"
		}
		if b.Name == "" || strings.ContainsAny(b.Name, `/\`) {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid binary name %q", b.Name)
			}
			return
		}
		if filepath.IsAbs(b.Subpath) || strings.Contains(b.Subpath, "..") {
			if firstErr == nil {
				firstErr = fmt.Errorf("subpath %q escapes the toolchain", b.Subpath)
			}
			return
		}
		bins = append(bins, b)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	if len(bins) == 0 {
		return nil, errors.New("no binaries declared")
	}
	return bins, nil
}

func (p *Plugin) Name() string { return p.name }

// Path returns the plugin file.
func (p *Plugin) Path() string { return p.path }

// Close releases the interpreter.
func (p *Plugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
}

// call invokes field of the plugin table (or of sub, when given) with args
// and returns its single result.
func (p *Plugin) call(ctx context.Context, sub *lua.LTable, field string, args ...lua.LValue) (lua.LValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L == nil {
		return lua.LNil, &PluginError{Path: p.path, Message: "plugin is closed"}
	}

	owner := p.table
	if sub != nil {
		owner = sub
	}
	fn := owner.RawGetString(field)
	if fn.Type() != lua.LTFunction {
		return fn, nil
	}

	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	if err := p.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, &PluginError{Path: p.path, Message: field + " failed", Detail: err.Error()}
	}
	ret := p.L.Get(-1)
	p.L.Pop(1)
	return ret, nil
}

func (p *Plugin) callString(ctx context.Context, sub *lua.LTable, field, version string) (string, error) {
	v, err := p.call(ctx, sub, field, lua.LString(version))
	if err != nil {
		return "", err
	}
	switch v.Type() {
	case lua.LTNil:
		return "", nil
	case lua.LTString:
		return v.String(), nil
	default:
		return "", &PluginError{Path: p.path, Message: field + " must return a string", Detail: v.Type().String()}
	}
}

// ListRemote evaluates plugin.versions. Entries are version strings or
// tables with "version" and an optional "lts" tag.
func (p *Plugin) ListRemote(ctx context.Context) ([]Version, error) {
	v, err := p.call(ctx, nil, "versions")
	if err != nil {
		return nil, err
	}
	list, ok := v.(*lua.LTable)
	if !ok {
		return nil, &PluginError{Path: p.path, Message: "versions must produce a list"}
	}

	var versions []Version
	list.ForEach(func(_, value lua.LValue) {
		switch entry := value.(type) {
		case lua.LString:
			versions = append(versions, Version{Version: NormalizeVersion(string(entry))})
		case *lua.LTable:
			ver := lua.LVAsString(entry.RawGetString("version"))
			if ver == "" {
				return
			}
			versions = append(versions, Version{
				Version: NormalizeVersion(ver),
				LTS:     lua.LVAsString(entry.RawGetString("lts")),
			})
		}
	})
	SortVersions(versions)
	return versions, nil
}

func (p *Plugin) DownloadURL(ctx context.Context, version string) (string, error) {
	url, err := p.callString(ctx, nil, "download_url", version)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", &PluginError{Path: p.path, Message: "download_url returned nothing for " + version}
	}
	return url, nil
}

// Checksum prefers plugin.checksum, then the listing at plugin.checksums_url.
func (p *Plugin) Checksum(ctx context.Context, version string) (string, error) {
	sum, err := p.callString(ctx, nil, "checksum", version)
	if err != nil || sum != "" {
		return sum, err
	}

	listURL, err := p.callString(ctx, nil, "checksums_url", version)
	if err != nil || listURL == "" {
		return "", err
	}
	archiveURL, err := p.DownloadURL(ctx, version)
	if err != nil {
		return "", err
	}

	listing, err := fetchBytes(ctx, p.client, listURL)
	if err != nil {
		return "", err
	}
	name := path.Base(archiveURL)
	if sum, ok := verify.FindChecksum(listing, name); ok {
		return sum, nil
	}
	// a ".sha256" sidecar holding only the digest
	if strings.Count(strings.TrimSpace(string(listing)), "\n") == 0 {
		return verify.SingleChecksum(listing)
	}
	return "", &PluginError{Path: p.path, Message: fmt.Sprintf("no checksum for %s in %s", name, listURL)}
}

// Signature fetches the detached signature named by plugin.signature.url.
func (p *Plugin) Signature(ctx context.Context, version string) (*verify.Signature, error) {
	if !p.signed {
		return nil, nil
	}

	p.mu.Lock()
	sig, _ := p.table.RawGetString("signature").(*lua.LTable)
	p.mu.Unlock()
	if sig == nil {
		return nil, nil
	}

	url, err := p.callString(ctx, sig, "url", version)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, nil
	}
	data, err := fetchBytes(ctx, p.client, url)
	if err != nil {
		return nil, err
	}
	kind := p.sigKind
	if kind == "" {
		if kind, err = verify.DetectKind(data); err != nil {
			return nil, &errs.SignatureError{Path: url, Method: "detect", Err: err}
		}
	}
	return &verify.Signature{Kind: kind, Data: data, Key: p.sigKey}, nil
}

func (p *Plugin) Binaries() []Binary {
	out := make([]Binary, len(p.binaries))
	copy(out, p.binaries)
	return out
}

// PostInstall is a no-op: plugins cannot touch the filesystem.
func (p *Plugin) PostInstall(ctx context.Context, installDir string) error { return nil }

// ResolveAlias handles "latest" and "lts".
func (p *Plugin) ResolveAlias(alias string, listing []Version) (string, bool) {
	switch alias {
	case "latest":
		return latest(listing)
	case "lts":
		return newestLTS(listing, "")
	default:
		return "", false
	}
}
