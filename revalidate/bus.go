// Package revalidate implements the process-wide focus/online bus:
// mounted clients subscribe to window-focus and network-online
// transitions and use them to trigger revalidation of stale queries.
//
// The window-focus and network-online event sources themselves are
// external collaborators (spec.md §1) — this package only fixes their
// interface (FocusHandler/OnlineHandler) and the registry that mounted
// clients subscribe to, in the spirit of the teacher's eventing.Client
// pub/sub interface (github.com/agentuity/go-common/eventing).
package revalidate

import "sync"

// FocusHandler registers a platform listener that invokes onFocus when
// the host regains foreground focus. It returns a cleanup function.
type FocusHandler func(onFocus func()) (cleanup func())

// OnlineHandler registers a platform listener that invokes onOnline when
// network connectivity transitions from offline to online. It returns a
// cleanup function.
type OnlineHandler func(onOnline func()) (cleanup func())

// Listener receives focus/online transitions from a Bus.
type Listener struct {
	OnFocus  func()
	OnOnline func()
}

// Bus is a process-wide registry of focus/online subscribers. The zero
// value is not usable; construct with New. A Bus is safe for concurrent
// use.
type Bus struct {
	mu sync.Mutex

	visible bool
	online  bool

	focusInit  FocusHandler
	onlineInit OnlineHandler

	focusCleanup  func()
	onlineCleanup func()

	subscribers map[uint64]Listener
	nextID      uint64
}

// New returns a Bus that starts visible and online, with no platform
// handlers installed — callers wire those in with SetFocusHandler /
// SetOnlineHandler, or drive transitions manually with SetVisible /
// SetOnline (the latter is also how tests simulate focus/online events).
func New() *Bus {
	return &Bus{
		visible:     true,
		online:      true,
		subscribers: make(map[uint64]Listener),
	}
}

// defaultBus is the process-wide bus a Client mounts into unless it is
// constructed with an explicit Bus of its own.
var defaultBus = New()

// Default returns the process-wide Bus.
func Default() *Bus { return defaultBus }

// SetFocusHandler installs the platform focus handler used the next time
// a subscriber causes the bus to start listening. It has no effect on an
// already-started handler; unsubscribe every listener first to swap it.
func (b *Bus) SetFocusHandler(h FocusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.focusInit = h
}

// SetOnlineHandler installs the platform online handler, mirroring
// SetFocusHandler.
func (b *Bus) SetOnlineHandler(h OnlineHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onlineInit = h
}

// IsVisibleAndOnline reports whether the host currently believes it is
// both focused and connected — the gate the Retryer consults before
// pausing a retry.
func (b *Bus) IsVisibleAndOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible && b.online
}

// SetVisible manually drives the visibility state. Calling it with true
// fires OnFocus on every subscriber, matching what a platform
// FocusHandler would do on a real focus event. Tests and hosts without a
// platform handler use this directly.
func (b *Bus) SetVisible(visible bool) {
	b.mu.Lock()
	b.visible = visible
	listeners := b.snapshotLocked()
	b.mu.Unlock()
	if visible {
		for _, l := range listeners {
			if l.OnFocus != nil {
				l.OnFocus()
			}
		}
	}
}

// SetOnline manually drives the online state, firing OnOnline on every
// subscriber when transitioning to true.
func (b *Bus) SetOnline(online bool) {
	b.mu.Lock()
	b.online = online
	listeners := b.snapshotLocked()
	b.mu.Unlock()
	if online {
		for _, l := range listeners {
			if l.OnOnline != nil {
				l.OnOnline()
			}
		}
	}
}

func (b *Bus) snapshotLocked() []Listener {
	out := make([]Listener, 0, len(b.subscribers))
	for _, l := range b.subscribers {
		out = append(out, l)
	}
	return out
}

// Subscribe registers l and, if this is the first subscriber, installs
// the platform handlers (if any were set with SetFocusHandler /
// SetOnlineHandler). It returns an idempotent unsubscribe function.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = l
	first := len(b.subscribers) == 1
	focusInit, onlineInit := b.focusInit, b.onlineInit
	b.mu.Unlock()

	if first {
		b.startLocked(focusInit, onlineInit)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			empty := len(b.subscribers) == 0
			b.mu.Unlock()
			if empty {
				b.stop()
			}
		})
	}
}

func (b *Bus) startLocked(focusInit FocusHandler, onlineInit OnlineHandler) {
	var focusCleanup, onlineCleanup func()
	if focusInit != nil {
		focusCleanup = focusInit(func() { b.SetVisible(true) })
	}
	if onlineInit != nil {
		onlineCleanup = onlineInit(func() { b.SetOnline(true) })
	}
	b.mu.Lock()
	b.focusCleanup = focusCleanup
	b.onlineCleanup = onlineCleanup
	b.mu.Unlock()
}

func (b *Bus) stop() {
	b.mu.Lock()
	focusCleanup, onlineCleanup := b.focusCleanup, b.onlineCleanup
	b.focusCleanup, b.onlineCleanup = nil, nil
	b.mu.Unlock()
	if focusCleanup != nil {
		focusCleanup()
	}
	if onlineCleanup != nil {
		onlineCleanup()
	}
}
