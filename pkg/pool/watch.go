package pool

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchLocked starts watching dir so its removal retires idle workers.
// Caller holds p.mu.
func (p *Pool) watchLocked(dir string) {
	if p.watcher == nil {
		return
	}
	if err := p.watcher.Add(dir); err != nil {
		p.log.Debug("watch working directory", zap.String("dir", dir), zap.Error(err))
	}
}

func (p *Pool) watchLoop() {
	defer p.wg.Done()

	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				p.retireKey(ev.Name)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("directory watcher error", zap.Error(err))
		}
	}
}

// retireKey closes the idle workers of a removed working directory. Workers
// in use are discarded on check-in.
func (p *Pool) retireKey(dir string) {
	p.mu.Lock()
	kp, ok := p.keys[dir]
	if !ok || kp.gone {
		p.mu.Unlock()
		return
	}
	kp.gone = true
	idle := kp.idle
	kp.idle = nil
	p.stats.Retired += int64(len(idle))
	if p.watcher != nil {
		_ = p.watcher.Remove(dir)
	}
	p.mu.Unlock()

	for _, w := range idle {
		w.close()
	}
	p.log.Info("working directory removed, retired workers",
		zap.String("dir", dir), zap.Int("count", len(idle)))
}
