package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/platform"
)

var nodeListing = []Version{
	{Version: "21.6.1"},
	{Version: "20.11.0", LTS: "Iron"},
	{Version: "20.10.0", LTS: "Iron"},
	{Version: "20.9.0", LTS: "Iron"},
	{Version: "18.19.0", LTS: "Hydrogen"},
}

func staticList(listing []Version, calls *int) ListFunc {
	return func(ctx context.Context) ([]Version, error) {
		*calls++
		return listing, nil
	}
}

func TestResolve(t *testing.T) {
	node := NewNode(nil, platform.New("linux", "amd64"))

	tests := []struct {
		spec      string
		want      string
		wantCalls int
		wantErr   errs.Kind
	}{
		{spec: "20.11.0", want: "20.11.0", wantCalls: 0},
		{spec: "v20.11.0", want: "20.11.0", wantCalls: 0},
		{spec: "20", want: "20.11.0", wantCalls: 1},
		{spec: "20.10", want: "20.10.0", wantCalls: 1},
		{spec: "lts", want: "20.11.0", wantCalls: 1},
		{spec: "lts-hydrogen", want: "18.19.0", wantCalls: 1},
		{spec: "lts/iron", want: "20.11.0", wantCalls: 1},
		{spec: "latest", want: "21.6.1", wantCalls: 1},
		{spec: "", want: "21.6.1", wantCalls: 1},
		{spec: "19", wantCalls: 1, wantErr: errs.KindVersionNotFound},
		{spec: "2", wantCalls: 1, wantErr: errs.KindVersionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			calls := 0
			got, err := Resolve(context.Background(), node, tt.spec, staticList(nodeListing, &calls))
			if tt.wantErr != errs.KindUnknown {
				if errs.KindOf(err) != tt.wantErr {
					t.Fatalf("Resolve(%q) error = %v, want kind %s", tt.spec, err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.spec, got, tt.want)
			}
			if calls != tt.wantCalls {
				t.Errorf("Resolve(%q) listed %d times, want %d", tt.spec, calls, tt.wantCalls)
			}
		})
	}
}

func TestResolve_RejectsUnsafeExactVersion(t *testing.T) {
	calls := 0
	_, err := Resolve(context.Background(), &fakeTool{name: "x"}, "1.2.3/../../etc", staticList(nil, &calls))
	if err == nil {
		t.Fatal("Resolve() accepted a path-like version")
	}
}

func TestResolve_ListError(t *testing.T) {
	want := &errs.NetworkError{URL: "https://example.invalid"}
	_, err := Resolve(context.Background(), &fakeTool{name: "x"}, "20", func(ctx context.Context) ([]Version, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Errorf("Resolve() error = %v, want the listing error", err)
	}
}

func TestResolve_JavaMajorIsExact(t *testing.T) {
	java := NewJava(nil, platform.New("linux", "amd64"))
	calls := 0
	got, err := Resolve(context.Background(), java, "21", staticList(nil, &calls))
	if err != nil || got != "21" || calls != 0 {
		t.Errorf("Resolve(java, 21) = %q, %v with %d listings", got, err, calls)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"20.11.0", "20.9.0", 1},
		{"1.22.0", "1.22.0", 0},
		{"1.9.0", "1.10.0", -1},
		{"21", "17", 1},
		{"1.0.0-rc.1", "1.0.0", -1},
		{"nightly", "1.0.0", -1},
		{"v2.0.0", "1.0.0", 1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSortVersionStrings(t *testing.T) {
	vs := []string{"1.9.0", "1.10.0", "1.2.0", "1.10.1"}
	SortVersionStrings(vs)
	want := []string{"1.10.1", "1.10.0", "1.9.0", "1.2.0"}
	for i := range want {
		if vs[i] != want[i] {
			t.Fatalf("SortVersionStrings() = %v, want %v", vs, want)
		}
	}
}
