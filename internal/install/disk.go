package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// FreeSpaceFunc reports the bytes available to unprivileged users on the
// filesystem holding path.
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

// GopsutilFreeSpace reads free space with gopsutil. A path that does not
// exist yet is measured at its nearest existing ancestor.
func GopsutilFreeSpace(ctx context.Context, path string) (uint64, error) {
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	usage, err := disk.UsageWithContext(ctx, probe)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", probe, err)
	}
	return usage.Free, nil
}
