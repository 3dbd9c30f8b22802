package adapter

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

// ListFunc returns a tool's remote listing, typically through the cache.
type ListFunc func(ctx context.Context) ([]Version, error)

// IsExact reports whether spec names a single version without consulting a
// listing: the adapter's ExactVersioner decides if it has one, otherwise a
// version with at least two dots is exact.
func IsExact(t Tool, spec string) bool {
	spec = NormalizeVersion(spec)
	if ev, ok := t.(ExactVersioner); ok {
		return ev.IsExact(spec)
	}
	return spec != "" && strings.Count(spec, ".") >= 2 && spec[0] >= '0' && spec[0] <= '9'
}

// Resolve canonicalizes spec to an exact version. Exact versions pass
// through without a listing. Otherwise list is called once and the adapter's
// aliases are tried before prefix matching ("20" matches the newest 20.x.y).
func Resolve(ctx context.Context, t Tool, spec string, list ListFunc) (string, error) {
	norm := NormalizeVersion(spec)
	if norm == "" {
		norm = "latest"
	}
	if IsExact(t, norm) {
		if err := ValidateVersion(norm); err != nil {
			return "", err
		}
		return norm, nil
	}

	listing, err := list(ctx)
	if err != nil {
		return "", err
	}

	if ar, ok := t.(AliasResolver); ok {
		if v, ok := ar.ResolveAlias(strings.ToLower(norm), listing); ok {
			v = NormalizeVersion(v)
			return v, ValidateVersion(v)
		}
	}

	best := ""
	for _, v := range listing {
		candidate := NormalizeVersion(v.Version)
		if candidate != norm && !strings.HasPrefix(candidate, norm+".") {
			continue
		}
		if best == "" || CompareVersions(candidate, best) > 0 {
			best = candidate
		}
	}
	if best == "" {
		return "", &errs.VersionNotFoundError{Tool: t.Name(), Spec: spec}
	}
	return best, ValidateVersion(best)
}

// CompareVersions orders two versions semantically. Strings that are not
// semantic versions sort below those that are, and lexically among
// themselves.
func CompareVersions(a, b string) int {
	sa, sb := "v"+NormalizeVersion(a), "v"+NormalizeVersion(b)
	va, vb := semver.IsValid(sa), semver.IsValid(sb)
	switch {
	case va && vb:
		if c := semver.Compare(sa, sb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case va:
		return 1
	case vb:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// SortVersions sorts a listing newest first.
func SortVersions(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		return CompareVersions(vs[i].Version, vs[j].Version) > 0
	})
}

// SortVersionStrings sorts versions newest first.
func SortVersionStrings(vs []string) {
	sort.SliceStable(vs, func(i, j int) bool {
		return CompareVersions(vs[i], vs[j]) > 0
	})
}

// latest returns the newest entry of a listing sorted newest first.
func latest(listing []Version) (string, bool) {
	if len(listing) == 0 {
		return "", false
	}
	return listing[0].Version, true
}

// newestLTS returns the newest entry carrying an LTS tag, optionally a
// specific codename.
func newestLTS(listing []Version, codename string) (string, bool) {
	for _, v := range listing {
		if v.LTS == "" {
			continue
		}
		if codename == "" || strings.EqualFold(v.LTS, codename) {
			return v.Version, true
		}
	}
	return "", false
}
