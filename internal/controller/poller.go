package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/specfile"
)

// Poller is the control loop: a single goroutine lists the watched
// directory on a fixed interval and dispatches each spec file at most
// once per state transition. Directory events from fsnotify only nudge
// the next tick early; they never start a second concurrent tick, and
// the interval tick always runs so missed events cannot strand a file.
type Poller struct {
	controller *Controller
	dir        string
	interval   time.Duration
	log        *zap.Logger

	watcher *fsnotify.Watcher
	nudge   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller over the watched directory.
func NewPoller(c *Controller, dir string, interval time.Duration, log *zap.Logger) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		controller: c,
		dir:        dir,
		interval:   interval,
		log:        log,
		nudge:      make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start ensures the watched directory exists and begins the loop. The
// fsnotify watcher is best effort: if it cannot be created the poller
// still runs on its interval alone.
func (p *Poller) Start() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create watched directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(p.dir); err == nil {
			p.watcher = watcher
			p.wg.Add(1)
			go p.watchLoop()
		} else {
			watcher.Close()
			p.log.Warn("directory watch unavailable, polling only", zap.Error(err))
		}
	} else {
		p.log.Warn("fsnotify unavailable, polling only", zap.Error(err))
	}

	p.wg.Add(1)
	go p.loop()
	p.log.Info("poller started", zap.String("dir", p.dir), zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	p.cancel()
	if p.watcher != nil {
		p.watcher.Close()
	}
	p.wg.Wait()
	p.log.Info("poller stopped")
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		case <-p.nudge:
			p.Tick()
		}
	}
}

// watchLoop forwards directory events as non-blocking nudges.
func (p *Poller) watchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) != 0 {
				select {
				case p.nudge <- struct{}{}:
				default:
				}
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("watch error", zap.Error(err))
		}
	}
}

// Tick runs one full poll cycle. Each file is fully parsed, validated,
// and applied (or failed) before the next is considered; per-file
// errors are absorbed by the dispatch layer so one bad spec never
// stalls the rest.
func (p *Poller) Tick() {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		p.log.Error("watched directory unavailable", zap.Error(err))
		return
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		p.log.Error("list watched directory", zap.Error(err))
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		state, ok := specfile.Classify(name)
		if !ok {
			continue
		}
		path := filepath.Join(p.dir, name)

		switch state {
		case models.StateApplied, models.StateFailed, models.StatePendingApproval:
			// Terminal, or awaiting external action.
		case models.StateApproved:
			p.controller.ProcessApproved(path)
		case models.StateNew:
			p.controller.ProcessNew(path)
		}
	}
}
