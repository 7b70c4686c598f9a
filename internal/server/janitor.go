package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// Janitor prunes stale brainstorm snapshots from the file store's directory
// on a cron schedule. Redis snapshots expire via TTL instead, so the janitor
// only runs for the file backend.
type Janitor struct {
	Dir       string
	Retention time.Duration
	Logger    *log.Logger
	Stop      chan struct{}

	schedule *cronexpr.Expression
}

// NewJanitor validates the cron spec and builds a janitor.
func NewJanitor(dir string, retention time.Duration, cron string, logger *log.Logger) (*Janitor, error) {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return nil, fmt.Errorf("parse sweep cron %q: %w", cron, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	return &Janitor{
		Dir:       dir,
		Retention: retention,
		Logger:    logger,
		Stop:      make(chan struct{}),
		schedule:  expr,
	}, nil
}

// Start runs the sweep loop in a goroutine until Stop is closed.
func (j *Janitor) Start() {
	ticker := time.NewTicker(time.Minute)
	next := j.schedule.Next(time.Now())
	go func() {
		for {
			select {
			case <-j.Stop:
				ticker.Stop()
				return
			case now := <-ticker.C:
				if now.Before(next) {
					continue
				}
				j.Sweep(now)
				next = j.schedule.Next(now)
			}
		}
	}()
}

// Sweep removes snapshot files unmodified for longer than the retention.
func (j *Janitor) Sweep(now time.Time) {
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		j.Logger.Printf("sweep: read %s: %v", j.Dir, err)
		return
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= j.Retention {
			continue
		}
		if err := os.Remove(filepath.Join(j.Dir, e.Name())); err != nil {
			j.Logger.Printf("sweep: remove %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.Logger.Printf("sweep: pruned %d stale snapshots", removed)
	}
}
