package vfs

import (
	"context"
	"path"
	"strings"
	"sync"
)

// WatchOptions filters which events a Watcher receives.
type WatchOptions struct {
	// Include, if non-empty, requires a path to match at least one glob.
	Include []string
	// Exclude drops any path matching one of these globs, even if included.
	Exclude []string
	// Recursive lets events under subdirectories of Path through; otherwise
	// only direct children are reported.
	Recursive bool
}

// Watcher is a live subscription created by FS.Watch.
type Watcher struct {
	id     int
	bus    *Bus
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Events returns the channel watch events are delivered on. Consumers must
// keep draining it; the bus already snapshots subscribers before delivery,
// so a slow consumer blocks fan-out, not other watchers' registration, but
// will eventually stall publishers if never drained.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close unsubscribes the watcher and releases its channel.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.bus.Unsubscribe(w.id)
		close(w.done)
	})
}

// Watch subscribes to change events at or under dir, matching opts.
func (f *FS) Watch(ctx context.Context, dir string, opts WatchOptions) *Watcher {
	dir = f.normalize(dir)
	w := &Watcher{
		bus:    f.store.bus,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	w.id = f.store.bus.Subscribe(func(ev Event) {
		if !watchMatches(dir, ev.Path, opts) {
			return
		}
		select {
		case w.events <- ev:
		case <-w.done:
		}
	})
	return w
}

func watchMatches(dir, evPath string, opts WatchOptions) bool {
	if !underDir(dir, evPath, opts.Recursive) {
		return false
	}
	if len(opts.Include) > 0 && !matchesAny(opts.Include, evPath) {
		return false
	}
	if matchesAny(opts.Exclude, evPath) {
		return false
	}
	return true
}

func underDir(dir, p string, recursive bool) bool {
	if dir == "/" {
		return true
	}
	if p == dir {
		return true
	}
	rel := p
	if len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/' {
		rel = p[len(dir)+1:]
	} else {
		return false
	}
	if recursive {
		return true
	}
	return path.Dir("/"+rel) == "/" || path.Dir("/"+rel) == "."
}

func matchesAny(globs []string, p string) bool {
	base := path.Base(p)
	for _, g := range globs {
		if globMatch(g, base) || globMatch(g, p) {
			return true
		}
	}
	return false
}

// globMatch matches pattern against name segment-by-segment: "*" and "?"
// behave as in path.Match within one segment, and "**" (a segment on its
// own) additionally matches any number of segments, including zero —
// stdlib path.Match's "*" never crosses "/", so it cannot express "**".
func globMatch(pattern, name string) bool {
	return globMatchSegments(splitSegments(pattern), splitSegments(name))
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func globMatchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		if globMatchSegments(pattern[1:], name) {
			return true
		}
		if len(name) == 0 {
			return false
		}
		return globMatchSegments(pattern, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], name[0])
	if err != nil || !ok {
		return false
	}
	return globMatchSegments(pattern[1:], name[1:])
}
