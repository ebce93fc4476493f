// Package button turns a global hotkey into the beacon's reset button.
// A press posts the button action to the event loop; further presses are
// ignored until the action has run and the debounce period has passed.
package button

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/eddystone-beacon/internal/eventloop"
)

// Debounce is how long presses are ignored after the action runs.
const Debounce = 750 * time.Millisecond

// Listener manages a global hotkey acting as the button.
type Listener struct {
	keys   []string
	loop   *eventloop.Loop
	action func()

	busy atomic.Bool
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo. keys should be
// lowercase key names (e.g., ["ctrl", "shift", "b"]). action runs on loop.
func NewListener(keys []string, loop *eventloop.Loop, action func()) *Listener {
	return &Listener{
		keys:   keys,
		loop:   loop,
		action: action,
		done:   make(chan struct{}),
	}
}

// Press is the raw button handler. It may be called from any goroutine and
// never touches beacon state itself; it reports whether the press was
// accepted.
func (l *Listener) Press() bool {
	if !l.busy.CompareAndSwap(false, true) {
		return false
	}
	l.loop.Post(func() {
		l.action()
		l.loop.PostIn(Debounce, func() { l.busy.Store(false) })
	})
	return true
}

// Start listens for the hotkey until ctx is done or Stop is called. It
// blocks; run it in a goroutine.
func (l *Listener) Start(ctx context.Context) error {
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		if !l.Press() {
			slog.Debug("[BUTTON] press ignored, debouncing")
		}
	})
	slog.Info("[BUTTON] listening", "keys", strings.Join(l.keys, "+"))

	evChan := hook.Start()
	go func() {
		select {
		case <-ctx.Done():
		case <-l.done:
		}
		hook.End()
	}()
	<-hook.Process(evChan)
	return nil
}

// Stop terminates the listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
