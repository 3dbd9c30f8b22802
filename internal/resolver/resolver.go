// Package resolver finds the toolchain versions pinned for a directory.
//
// The walk starts at a directory and moves toward the filesystem root. At
// each level a combined .tool-versions file is consulted first; when it
// exists it decides the result and single-tool files at that level and above
// are ignored. Otherwise single-tool files (.node-version, .nvmrc,
// .go-version, .java-version, .rust-toolchain, rust-toolchain.toml) are
// collected. The walk stops at the first level that pins anything.
package resolver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
)

// CombinedFile is the multi-tool pin file.
const CombinedFile = ".tool-versions"

// Class ranks pin files. Combined outranks single.
type Class int

const (
	ClassSingle Class = iota
	ClassCombined
)

func (c Class) String() string {
	if c == ClassCombined {
		return "combined"
	}
	return "single"
}

// VersionFile is a parsed pin file.
type VersionFile struct {
	Path  string
	Class Class
	// Pins maps tool name to the pinned version, unresolved.
	Pins map[string]string
}

type singleFile struct {
	name  string
	tool  string
	parse func(data []byte) string
}

// Order matters: the first file found for a tool at a level wins.
var singleFiles = []singleFile{
	{name: ".node-version", tool: "node", parse: firstToken},
	{name: ".nvmrc", tool: "node", parse: nvmrcVersion},
	{name: ".go-version", tool: "go", parse: firstToken},
	{name: ".java-version", tool: "java", parse: firstToken},
	{name: "rust-toolchain.toml", tool: "rust", parse: rustToolchainChannel},
	{name: ".rust-toolchain", tool: "rust", parse: firstToken},
	{name: "rust-toolchain", tool: "rust", parse: firstToken},
}

// IsPinFile reports whether name is the base name of a pin file.
func IsPinFile(name string) bool {
	if name == CombinedFile {
		return true
	}
	for _, sf := range singleFiles {
		if sf.name == name {
			return true
		}
	}
	return false
}

// Resolver walks directories for pin files.
type Resolver struct {
	known func(tool string) bool
}

// New returns a resolver that keeps only tools for which known returns
// true. A nil known keeps every syntactically valid tool name.
func New(known func(tool string) bool) *Resolver {
	return &Resolver{known: known}
}

// Resolve returns the pins that apply to start.
func (r *Resolver) Resolve(start string) (map[string]string, error) {
	files, err := r.Files(start)
	if err != nil {
		return nil, err
	}
	pins := make(map[string]string)
	for _, f := range files {
		for tool, version := range f.Pins {
			if _, seen := pins[tool]; !seen {
				pins[tool] = version
			}
		}
	}
	return pins, nil
}

// Files returns the pin files that decide the result for start, in
// precedence order. The result is empty when nothing is pinned.
func (r *Resolver) Files(start string) ([]VersionFile, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("resolve start directory: %w", err)
	}

	for {
		files, err := r.scanLevel(dir)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return files, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// scanLevel reads the pin files in dir. A present combined file is
// returned alone, even when it pins nothing known.
func (r *Resolver) scanLevel(dir string) ([]VersionFile, error) {
	combinedPath := filepath.Join(dir, CombinedFile)
	data, ok, err := readPinFile(combinedPath)
	if err != nil {
		return nil, err
	}
	if ok {
		return []VersionFile{{Path: combinedPath, Class: ClassCombined, Pins: r.parseCombined(data)}}, nil
	}

	var files []VersionFile
	taken := make(map[string]bool)
	for _, sf := range singleFiles {
		if taken[sf.tool] || !r.keep(sf.tool) {
			continue
		}
		path := filepath.Join(dir, sf.name)
		data, ok, err := readPinFile(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		version := adapter.NormalizeVersion(sf.parse(data))
		if version == "" {
			continue
		}
		taken[sf.tool] = true
		files = append(files, VersionFile{Path: path, Class: ClassSingle, Pins: map[string]string{sf.tool: version}})
	}
	return files, nil
}

// parseCombined reads "<tool> <version>" lines. Blank lines, # comments,
// lines without a version and unknown tools are skipped; the first line
// for a tool wins.
func (r *Resolver) parseCombined(data []byte) map[string]string {
	pins := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		tool, version := fields[0], adapter.NormalizeVersion(fields[1])
		if !r.keep(tool) || version == "" {
			continue
		}
		if _, seen := pins[tool]; !seen {
			pins[tool] = version
		}
	}
	return pins
}

func (r *Resolver) keep(tool string) bool {
	if adapter.ValidateName(tool) != nil {
		return false
	}
	return r.known == nil || r.known(tool)
}

// readPinFile reads path if it is a regular file. Directories and missing
// files report ok=false.
func readPinFile(path string) ([]byte, bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return data, true, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// firstToken returns the first token of the first non-comment line.
func firstToken(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if fields := strings.Fields(stripComment(scanner.Text())); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// nvmrcVersion maps nvm aliases onto node adapter aliases:
// "lts/*" is lts, "lts/iron" is lts-iron and "node" is latest.
func nvmrcVersion(data []byte) string {
	v := firstToken(data)
	switch {
	case v == "node" || v == "stable":
		return "latest"
	case v == "lts/*":
		return "lts"
	case strings.HasPrefix(v, "lts/"):
		return "lts-" + strings.ToLower(strings.TrimPrefix(v, "lts/"))
	}
	return v
}

type rustToolchainFile struct {
	Toolchain struct {
		Channel string `toml:"channel"`
	} `toml:"toolchain"`
}

func rustToolchainChannel(data []byte) string {
	var f rustToolchainFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return ""
	}
	return strings.TrimSpace(f.Toolchain.Channel)
}
