package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
)

// DefaultAdoptiumAPI is the Eclipse Temurin API root.
const DefaultAdoptiumAPI = "https://api.adoptium.net/v3"

// Java installs Eclipse Temurin JDKs. Versions are feature releases ("21").
type Java struct {
	APIURL   string
	client   *http.Client
	platform *platform.Info

	mu     sync.Mutex
	assets map[string]*temurinPackage
}

// NewJava returns the java adapter.
func NewJava(client *http.Client, info *platform.Info) *Java {
	return &Java{
		APIURL:   DefaultAdoptiumAPI,
		client:   client,
		platform: info,
		assets:   make(map[string]*temurinPackage),
	}
}

type availableReleases struct {
	LTS      []int `json:"available_lts_releases"`
	Releases []int `json:"available_releases"`
}

type temurinRelease struct {
	Binary struct {
		Package temurinPackage `json:"package"`
	} `json:"binary"`
}

type temurinPackage struct {
	Name     string `json:"name"`
	Link     string `json:"link"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

func (j *Java) Name() string { return "java" }

func (j *Java) ListRemote(ctx context.Context) ([]Version, error) {
	var releases availableReleases
	if err := fetchJSON(ctx, j.client, j.APIURL+"/info/available_releases", &releases); err != nil {
		return nil, err
	}

	lts := make(map[int]bool, len(releases.LTS))
	for _, v := range releases.LTS {
		lts[v] = true
	}

	versions := make([]Version, 0, len(releases.Releases))
	for _, v := range releases.Releases {
		entry := Version{Version: strconv.Itoa(v)}
		if lts[v] {
			entry.LTS = "LTS"
		}
		versions = append(versions, entry)
	}
	SortVersions(versions)
	return versions, nil
}

func (j *Java) query() (url.Values, error) {
	q := url.Values{}
	switch j.platform.Arch {
	case "amd64":
		q.Set("architecture", "x64")
	case "arm64":
		q.Set("architecture", "aarch64")
	default:
		return nil, fmt.Errorf("java: unsupported architecture %s", j.platform.Arch)
	}
	switch {
	case j.platform.IsMacOS():
		q.Set("os", "mac")
	case j.platform.IsMusl():
		q.Set("os", "alpine-linux")
	default:
		q.Set("os", "linux")
	}
	q.Set("image_type", "jdk")
	q.Set("vendor", "eclipse")
	return q, nil
}

// asset looks up the latest build of a feature release, once per version.
func (j *Java) asset(ctx context.Context, version string) (*temurinPackage, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if pkg, ok := j.assets[version]; ok {
		return pkg, nil
	}

	q, err := j.query()
	if err != nil {
		return nil, err
	}
	var releases []temurinRelease
	endpoint := fmt.Sprintf("%s/assets/latest/%s/hotspot?%s", j.APIURL, url.PathEscape(version), q.Encode())
	if err := fetchJSON(ctx, j.client, endpoint, &releases); err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, &errs.VersionNotFoundError{Tool: "java", Spec: version}
	}

	pkg := &releases[0].Binary.Package
	j.assets[version] = pkg
	return pkg, nil
}

func (j *Java) DownloadURL(ctx context.Context, version string) (string, error) {
	pkg, err := j.asset(ctx, version)
	if err != nil {
		return "", err
	}
	return pkg.Link, nil
}

func (j *Java) Checksum(ctx context.Context, version string) (string, error) {
	pkg, err := j.asset(ctx, version)
	if err != nil {
		return "", err
	}
	return pkg.Checksum, nil
}

func (j *Java) Binaries() []Binary {
	subpath := "bin"
	if j.platform.IsMacOS() {
		subpath = "Contents/Home/bin"
	}
	return sameSubpath(subpath,
		"java", "javac", "jar", "javadoc", "javap", "jcmd", "jconsole", "jdb",
		"jdeprscan", "jdeps", "jfr", "jhsdb", "jimage", "jinfo", "jlink", "jmap",
		"jmod", "jnativescan", "jpackage", "jps", "jrunscript", "jshell", "jstack",
		"jstat", "jstatd", "jwebserver", "keytool", "rmiregistry", "serialver", "jarsigner",
	)
}

func (j *Java) PostInstall(ctx context.Context, installDir string) error { return nil }

// IsExact treats feature release numbers as exact.
func (j *Java) IsExact(version string) bool {
	_, err := strconv.Atoi(version)
	return err == nil
}

// ResolveAlias handles "latest" and "lts".
func (j *Java) ResolveAlias(alias string, listing []Version) (string, bool) {
	switch alias {
	case "latest":
		return latest(listing)
	case "lts":
		return newestLTS(listing, "")
	default:
		return "", false
	}
}
