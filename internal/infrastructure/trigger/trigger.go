// Package trigger turns filesystem changes, timers and notifications into coalesced run requests.
package trigger

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Reason string

const (
	ReasonStartup      Reason = "startup"
	ReasonFSChange     Reason = "fs_change"
	ReasonInterval     Reason = "interval"
	ReasonNotification Reason = "notification"
)

// Coalescer holds at most one pending run request. Requests that arrive while one is
// pending are merged into it.
type Coalescer struct {
	ch chan Reason
}

func NewCoalescer() *Coalescer {
	return &Coalescer{ch: make(chan Reason, 1)}
}

func (c *Coalescer) Fire(reason Reason) {
	select {
	case c.ch <- reason:
	default:
	}
}

func (c *Coalescer) C() <-chan Reason {
	return c.ch
}

// Every fires on each tick until ctx is done.
func Every(ctx context.Context, interval time.Duration, fire func(Reason)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire(ReasonInterval)
		}
	}
}

type WatchConfig struct {
	Root       string
	Extensions []string
	// Debounce coalesces bursts such as a downloader writing many files.
	Debounce time.Duration
}

// WatchDir fires once per burst of create, write or rename events on matching files under
// Root. It blocks until ctx is done.
func WatchDir(ctx context.Context, cfg WatchConfig, fire func(Reason), log *slog.Logger) error {
	if cfg.Root == "" {
		return errors.New("watch: no root provided")
	}
	if log == nil {
		log = slog.Default()
	}
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.TrimPrefix(strings.ToLower(ext), ".")] = struct{}{}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addTree(w, cfg.Root); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Op&fsnotify.Create == fsnotify.Create {
				if err := addTree(w, e.Name); err != nil {
					log.Debug("watch_add_failed", "path", e.Name, "error", err)
				}
			}
			if !matches(e.Name, exts) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if cfg.Debounce <= 0 {
				fire(ReasonFSChange)
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(cfg.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(cfg.Debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if pending {
				pending = false
				fire(ReasonFSChange)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch_error", "error", err)
		}
	}
}

func matches(path string, exts map[string]struct{}) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if len(exts) == 0 {
		return true
	}
	_, ok := exts[strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")]
	return ok
}

// addTree watches path and every non-hidden directory below it. Non-directories are ignored.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
