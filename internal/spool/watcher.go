package spool

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// EventOp says what happened to a spool entry.
type EventOp int

const (
	// EntryCreated means a new entry appeared under the root. A problem
	// directory may still be a locked skeleton; consumers open it with the
	// usual flow, which waits out the creator. The entry type is not
	// checked: a plain file created under the root is reported too.
	EntryCreated EventOp = iota
	// EntryRemoved means an entry disappeared from (or was renamed away
	// from) the root, whatever its type.
	EntryRemoved
)

func (op EventOp) String() string {
	switch op {
	case EntryCreated:
		return "created"
	case EntryRemoved:
		return "removed"
	}
	return "unknown"
}

// Event is one observed change to the spool.
type Event struct {
	Name string
	Op   EventOp
}

// Watch reports entries appearing in and disappearing from the spool root
// until ctx is cancelled. Names starting with "." are ignored; other entries
// are reported whether or not they are directories. The returned channel
// closes on cancellation or watcher failure.
func (s *Spool) Watch(ctx context.Context) (<-chan Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(s.root); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", s.root, err)
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)
				// Item-level churn inside problem directories does not
				// reach us (the watch is not recursive), but writes to
				// stray files directly under the root do.
				if strings.HasPrefix(name, ".") {
					continue
				}
				switch {
				case ev.Has(fsnotify.Create):
					events <- Event{Name: name, Op: EntryCreated}
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					events <- Event{Name: name, Op: EntryRemoved}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Error("spool watcher error", "error", err)
			}
		}
	}()
	return events, nil
}
