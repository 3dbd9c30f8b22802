// Package autoswitch activates the versions pinned for a directory and
// keeps them active while pin files change.
package autoswitch

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

// Target is the subset of the manager that auto-switching needs.
type Target interface {
	Resolve(dir string) (map[string]string, error)
	// MatchInstalled resolves a pin against installed versions only and
	// returns *errs.VersionNotInstalledError when none matches.
	MatchInstalled(tool, spec string) (string, error)
	Current(tool string) (string, error)
	Activate(ctx context.Context, tool, version string) (string, error)
}

// Change is one tool switched by Apply.
type Change struct {
	Tool string
	From string
	To   string
}

// Report describes what Apply did. Pins whose version is not installed are
// skipped and listed in Missing; installing them is up to the caller.
type Report struct {
	Pins      map[string]string
	Activated []Change
	Unchanged []string
	Missing   map[string]string
}

// Empty reports whether nothing was pinned.
func (r *Report) Empty() bool { return len(r.Pins) == 0 }

// Apply activates every installed pinned version for dir. Tools are
// processed in name order. Only activation failures are returned.
func Apply(ctx context.Context, target Target, dir string) (*Report, error) {
	pins, err := target.Resolve(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{Pins: pins, Missing: make(map[string]string)}
	tools := make([]string, 0, len(pins))
	for tool := range pins {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	for _, tool := range tools {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		spec := pins[tool]

		version, err := target.MatchInstalled(tool, spec)
		if errs.Is(err, errs.KindVersionNotInstalled) {
			report.Missing[tool] = spec
			continue
		}
		if err != nil {
			return report, fmt.Errorf("match %s@%s: %w", tool, spec, err)
		}

		current, err := target.Current(tool)
		if err != nil {
			return report, err
		}
		if current == version {
			report.Unchanged = append(report.Unchanged, tool)
			continue
		}

		if _, err := target.Activate(ctx, tool, version); err != nil {
			return report, fmt.Errorf("activate %s@%s: %w", tool, version, err)
		}
		report.Activated = append(report.Activated, Change{Tool: tool, From: current, To: version})
	}
	return report, nil
}
