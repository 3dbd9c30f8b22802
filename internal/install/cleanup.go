package install

import (
	"os"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
)

// cleanupGuard collects temporary paths of one install and removes them,
// newest first, when run. It is deferred right after creation so it fires
// on every exit path, including context cancellation.
type cleanupGuard struct {
	paths  []string
	logger config.Logger
}

func newCleanupGuard(logger config.Logger) *cleanupGuard {
	return &cleanupGuard{logger: config.OrNop(logger)}
}

func (g *cleanupGuard) add(path string) {
	g.paths = append(g.paths, path)
}

func (g *cleanupGuard) run() {
	for i := len(g.paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(g.paths[i]); err != nil {
			g.logger.Warn("Failed to remove temporary path", "path", g.paths[i], "error", err)
		}
	}
	g.paths = nil
}
