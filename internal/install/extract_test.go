package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/testutil"
)

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"node-v20.11.0-linux-x64.tar.gz":                  FormatTarGz,
		"https://x/go1.22.1.linux-amd64.tar.gz?download=1": FormatTarGz,
		"foo.TGZ":                   FormatTarGz,
		"foo.tar.zst":               FormatTarZst,
		"foo.tar":                   FormatTar,
		"OpenJDK21U-jdk_x64.zip":    FormatZip,
		"zig-linux-x86_64.tar.xz":   FormatUnknown,
		"cache/node-1-uuid.download": FormatUnknown,
	}
	for name, want := range tests {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExtract_TarGz(t *testing.T) {
	archive := testutil.WriteFile(t, t.TempDir(), "a.tar.gz", testutil.TarGz(t,
		testutil.Dir("pkg/"),
		testutil.Dir("pkg/bin/"),
		testutil.Exec("pkg/bin/tool", "#!/bin/sh\n"),
		testutil.File("pkg/lib/data.txt", "data"),
		testutil.Symlink("pkg/bin/alias", "tool"),
		testutil.Symlink("pkg/current", "lib"),
		testutil.Entry{Name: "pkg/bin/hard", Hard: "pkg/bin/tool"},
	))
	dest := filepath.Join(t.TempDir(), "out")

	if err := Extract(context.Background(), archive, dest, FormatTarGz); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	fi, err := os.Stat(filepath.Join(dest, "pkg", "bin", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0o100 == 0 {
		t.Errorf("executable bit lost: %v", fi.Mode())
	}

	target, err := os.Readlink(filepath.Join(dest, "pkg", "bin", "alias"))
	if err != nil || target != "tool" {
		t.Errorf("alias -> %q, %v", target, err)
	}
	if data, err := os.ReadFile(filepath.Join(dest, "pkg", "current", "data.txt")); err != nil || string(data) != "data" {
		t.Errorf("directory symlink not usable: %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "pkg", "bin", "hard")); err != nil {
		t.Errorf("hardlink missing: %v", err)
	}
}

func TestExtract_Zip(t *testing.T) {
	archive := testutil.WriteFile(t, t.TempDir(), "a.zip", testutil.Zip(t,
		testutil.Dir("jdk-21/"),
		testutil.Exec("jdk-21/bin/java", "java"),
		testutil.Symlink("jdk-21/bin/j", "java"),
	))
	dest := filepath.Join(t.TempDir(), "out")

	if err := Extract(context.Background(), archive, dest, FormatZip); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(dest, "jdk-21", "bin", "j")); err != nil || string(data) != "java" {
		t.Errorf("zip symlink: %q, %v", data, err)
	}
}

func TestExtract_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name    string
		entries []testutil.Entry
	}{
		{name: "parent component", entries: []testutil.Entry{testutil.File("../evil", "x")}},
		{name: "nested parent component", entries: []testutil.Entry{testutil.File("pkg/../../evil", "x")}},
		{name: "absolute path", entries: []testutil.Entry{testutil.File("/tmp/evil", "x")}},
		{name: "absolute symlink", entries: []testutil.Entry{testutil.Symlink("pkg/link", "/etc/passwd")}},
		{name: "escaping symlink", entries: []testutil.Entry{testutil.Symlink("pkg/link", "../../outside")}},
		{name: "symlink chained through symlink", entries: []testutil.Entry{
			testutil.Symlink("s", "."),
			testutil.Symlink("s/l", ".."),
		}},
		{name: "parent link resolved after an earlier link", entries: []testutil.Entry{
			testutil.Dir("d/"),
			testutil.Symlink("d/s", ".."),
			testutil.Symlink("d/l", "s/../.."),
			testutil.File("d/l/evil", "x"),
		}},
		{name: "later link repoints an earlier one", entries: []testutil.Entry{
			testutil.Dir("d/"),
			testutil.Symlink("d/s", "."),
			testutil.Symlink("d/l", "s/.."),
			testutil.Symlink("d/s", ".."),
		}},
		{name: "link through a not yet created link", entries: []testutil.Entry{
			testutil.Dir("d/"),
			testutil.Symlink("d/l", "x/../.."),
			testutil.Symlink("d/x", "../.."),
		}},
		{name: "escaping hardlink", entries: []testutil.Entry{{Name: "pkg/h", Hard: "../outside"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			archive := testutil.WriteFile(t, base, "a.tar.gz", testutil.TarGz(t, tt.entries...))
			dest := filepath.Join(base, "stage", "out")

			err := Extract(context.Background(), archive, dest, FormatTarGz)
			if !errs.Is(err, errs.KindPathTraversal) {
				t.Fatalf("Extract() error = %v, want path traversal", err)
			}
			for _, p := range []string{filepath.Join(base, "stage", "evil"), filepath.Join(base, "evil")} {
				if _, err := os.Lstat(p); !os.IsNotExist(err) {
					t.Errorf("%s written outside the destination", p)
				}
			}
		})
	}
}

func TestExtract_ZipTraversal(t *testing.T) {
	archive := testutil.WriteFile(t, t.TempDir(), "a.zip", testutil.Zip(t, testutil.File("../../evil", "x")))
	err := Extract(context.Background(), archive, filepath.Join(t.TempDir(), "out"), FormatZip)
	if !errs.Is(err, errs.KindPathTraversal) {
		t.Fatalf("Extract() error = %v, want path traversal", err)
	}
}

func TestExtract_ContextCancelled(t *testing.T) {
	archive := testutil.WriteFile(t, t.TempDir(), "a.tar.gz", testutil.TarGz(t, testutil.File("pkg/a", "x")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Extract(ctx, archive, filepath.Join(t.TempDir(), "out"), FormatTarGz)
	if err != context.Canceled {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestCleanupGuard(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "x.download", []byte("x"))
	tree := filepath.Join(dir, "x.extract")
	testutil.WriteFile(t, tree, "a/b", []byte("y"))

	g := newCleanupGuard(nil)
	g.add(file)
	g.add(tree)
	g.add(filepath.Join(dir, "never-created"))
	g.run()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("cleanup left %v", entries)
	}
}
