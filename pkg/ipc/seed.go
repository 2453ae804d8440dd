package ipc

import (
	"context"
	"os"

	"github.com/ck3user75233/ck3raven/pkg/playset"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// readFileFingerprint reads a file's bytes along with the mtime/size stat
// pair a build-task dedup key needs, mirroring pkg/discovery.processFile's
// read shape for the IPC server's own direct-enqueue path.
func readFileFingerprint(path string) (blob []byte, mtime, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, 0, err
	}
	blob, err = os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	return blob, info.ModTime().Unix(), info.Size(), nil
}

// looksBinary applies the same NUL-byte heuristic pkg/discovery uses.
func looksBinary(b []byte) bool {
	n := len(b)
	if n > 8192 {
		n = 8192
	}
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}

// seedFromPlayset reads the playset manifest at path and ensures one
// content version (and, for mods, one mod_packages row) exists per entry,
// scheduling a discovery task for each — the daemon-side half of spec.md §6
// "one mod package and content version are created per entry." This method
// only schedules and does not walk; the resulting discovery tasks are
// claimed and walked by the `discover` command's walker, not by the build
// worker.
func (s *Server) seedFromPlayset(ctx context.Context, path string) (scheduled, discoveryEnqueued int, err error) {
	ps, err := playset.Load(path)
	if err != nil {
		return 0, 0, err
	}

	cvID, err := s.store.EnsureContentVersion(ctx, "vanilla", nil, ps.VanillaPath, store.HashContent([]byte(ps.VanillaPath)))
	if err != nil {
		return 0, 0, err
	}
	if _, err := s.store.EnqueueDiscoveryTask(ctx, cvID); err != nil {
		return 0, 0, err
	}
	scheduled++
	discoveryEnqueued++

	for _, mod := range ps.EnabledMods() {
		modID, err := s.store.RegisterModPackage(ctx, mod.Name, mod.WorkshopID, mod.Path)
		if err != nil {
			return scheduled, discoveryEnqueued, err
		}
		modCVID, err := s.store.EnsureContentVersion(ctx, "mod", &modID, mod.Path, store.HashContent([]byte(mod.Path)))
		if err != nil {
			return scheduled, discoveryEnqueued, err
		}
		if _, err := s.store.EnqueueDiscoveryTask(ctx, modCVID); err != nil {
			return scheduled, discoveryEnqueued, err
		}
		scheduled++
		discoveryEnqueued++
	}

	return scheduled, discoveryEnqueued, nil
}
