package allocator

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// tuning holds the subset of Config that may change after Initialize
// without discarding live regions: slot-init batch, debug mode, and the
// per-NUMA cache cap. Region size, huge-page usage, and the size-class set
// are fixed for the process lifetime.
type tuning struct {
	slotInitBatch atomic.Int64
	debug         atomic.Bool
	numaCacheCap  atomic.Int64

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type tuningFile struct {
	SlotInitBatch *int  `json:"slot_init_batch,omitempty"`
	Debug         *bool `json:"debug,omitempty"`
	NUMACacheCap  *int  `json:"numa_cache_cap,omitempty"`
}

func newTuning(cfg *Config) *tuning {
	t := &tuning{}
	t.slotInitBatch.Store(int64(cfg.SlotInitBatch))
	t.debug.Store(cfg.Debug)
	t.numaCacheCap.Store(int64(cfg.NUMACacheCap))
	return t
}

// watch starts watching cfg.TuningFile, if set, applying updates as they
// land. It is a no-op if TuningFile is empty. Errors opening the watcher or
// the initial file are logged, not fatal: tuning is best-effort.
func (t *tuning) watch(path string) {
	if path == "" {
		return
	}

	t.applyFile(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("allocator: tuning watcher unavailable", "error", err)
		return
	}
	if err := w.Add(path); err != nil {
		slog.Warn("allocator: could not watch tuning file", "path", path, "error", err)
		w.Close()
		return
	}

	t.watcher = w
	t.done = make(chan struct{})
	go t.loop(path)
}

func (t *tuning) loop(path string) {
	defer close(t.done)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.applyFile(path)
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("allocator: tuning watcher error", "error", err)
		}
	}
}

func (t *tuning) applyFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("allocator: could not read tuning file", "path", path, "error", err)
		return
	}
	var f tuningFile
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("allocator: could not parse tuning file", "path", path, "error", err)
		return
	}
	if f.SlotInitBatch != nil && *f.SlotInitBatch > 0 {
		t.slotInitBatch.Store(int64(*f.SlotInitBatch))
	}
	if f.Debug != nil {
		t.debug.Store(*f.Debug)
	}
	if f.NUMACacheCap != nil && *f.NUMACacheCap >= 0 {
		t.numaCacheCap.Store(int64(*f.NUMACacheCap))
	}
}

func (t *tuning) close() {
	if t.watcher == nil {
		return
	}
	t.watcher.Close()
	<-t.done
}
