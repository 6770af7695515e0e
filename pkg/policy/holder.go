package policy

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Holder publishes the current policy to concurrent readers.
type Holder struct {
	current atomic.Pointer[Policy]
}

func NewHolder(p *Policy) *Holder {
	h := &Holder{}
	h.Set(p)
	return h
}

func (h *Holder) Get() *Policy {
	return h.current.Load()
}

func (h *Holder) Set(p *Policy) {
	if p == nil {
		p = &Policy{}
		p.applyDefaults()
	}
	h.current.Store(p)
}

// Reload loads path into the holder. On error the previous policy stays.
func (h *Holder) Reload(path string) error {
	p, err := Load(path)
	if err != nil {
		return err
	}
	warnUnknownMode(path, p)
	h.Set(p)
	return nil
}

// Watch reloads the policy whenever path changes until ctx is done. The
// parent directory is watched so atomic rename-on-save editors are seen.
func Watch(ctx context.Context, path string, h *Holder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := h.Reload(path); err != nil {
					zap.L().Error("[Policy] reload failed, keeping previous policy", zap.String("path", path), zap.Error(err))
					continue
				}
				zap.L().Info("[Policy] license policy reloaded", zap.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zap.L().Error("[Policy] watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

func warnUnknownMode(path string, p *Policy) {
	if p.KnownMode() {
		return
	}
	zap.L().Warn("[Policy] unrecognised enforcement mode, failing open",
		zap.String("path", path),
		zap.String("mode", string(p.Enforcement.Mode)),
	)
}
