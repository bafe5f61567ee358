package extractor

import (
	"fmt"
	"log/slog"
	"sync"
)

// renderState is a step of a rendering-path call.
type renderState int

const (
	stateIdle renderState = iota
	stateLaunching
	stateNavigating
	stateSettling
	stateExtracting
	stateClosed
)

func (s renderState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLaunching:
		return "launching"
	case stateNavigating:
		return "navigating"
	case stateSettling:
		return "settling"
	case stateExtracting:
		return "extracting"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("renderState(%d)", int(s))
	}
}

// lifecycle tracks one rendering call from Idle to Closed. States only move
// forward one step at a time, except that close jumps to Closed from
// anywhere. Closed is terminal and the release func runs exactly once.
type lifecycle struct {
	mu      sync.Mutex
	state   renderState
	url     string
	release func()
	once    sync.Once
}

func newLifecycle(url string) *lifecycle {
	return &lifecycle{state: stateIdle, url: url}
}

// advance moves to next, which must be the immediate successor of the
// current state.
func (l *lifecycle) advance(next renderState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateClosed {
		return fmt.Errorf("render lifecycle: %s after close", next)
	}
	if next != l.state+1 || next == stateClosed {
		return fmt.Errorf("render lifecycle: invalid transition %s -> %s", l.state, next)
	}
	slog.Debug("render state", "url", l.url, "from", l.state.String(), "to", next.String())
	l.state = next
	return nil
}

// hold registers the resource release to run on close. Only the first
// registration is kept.
func (l *lifecycle) hold(release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.release == nil {
		l.release = release
	}
}

// close moves to Closed and releases the held resource. Safe to call more
// than once; only the first call releases.
func (l *lifecycle) close() {
	l.once.Do(func() {
		l.mu.Lock()
		from := l.state
		l.state = stateClosed
		release := l.release
		l.mu.Unlock()

		slog.Debug("render state", "url", l.url, "from", from.String(), "to", stateClosed.String())
		if release != nil {
			release()
		}
	})
}

func (l *lifecycle) current() renderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
