// Package advert multiplexes the beacon's slots onto one radio. Every
// enabled slot has its own periodic producer that appends the slot to a
// shared FIFO; a radio manager pops the FIFO and swaps the popped slot's
// frame onto the air. A slot with a shorter interval is queued more often
// and so gets more airtime.
package advert

import (
	"errors"
	"log/slog"
	"time"

	"github.com/chaz8081/eddystone-beacon/internal/ble"
	"github.com/chaz8081/eddystone-beacon/internal/eventloop"
	"github.com/chaz8081/eddystone-beacon/internal/slot"
)

var (
	// ErrNoEnabledSlots is returned by Start when every slot interval is 0.
	ErrNoEnabledSlots = errors.New("advert: no enabled slots")
	// ErrInvalidAdvertisingInterval is returned for an interval of 0 or
	// one the radio cannot honour.
	ErrInvalidAdvertisingInterval = errors.New("advert: invalid advertising interval")
)

// queueCapacity bounds the FIFO. When producers outpace the radio the
// oldest entry is dropped.
const queueCapacity = 32

// Slots is the view of the slot store the scheduler needs.
type Slots interface {
	Len() int
	Get(i int) (slot.Slot, error)
	Advertisement(i int) ([]byte, int, error)
	CountPDU()
}

// Stats counts scheduler activity since the last Start.
type Stats struct {
	Enqueued []int // per slot
	Swaps    int
	Dropped  int
}

// Scheduler is the radio manager. All methods must run on the event loop.
type Scheduler struct {
	loop  *eventloop.Loop
	radio ble.Radio
	slots Slots

	running     bool
	connectable bool
	queue       []int
	producers   []eventloop.Handle
	manager     eventloop.Handle // 0 when no manager step is pending
	stats       Stats
}

// New creates an idle scheduler.
func New(loop *eventloop.Loop, radio ble.Radio, slots Slots) *Scheduler {
	return &Scheduler{loop: loop, radio: radio, slots: slots}
}

// Start begins beacon advertising: every enabled slot is queued once and
// then re-queued every interval. Any previous run is stopped first.
func (s *Scheduler) Start(connectable bool) error {
	s.Stop()

	n := s.slots.Len()
	intervals := make([]time.Duration, n)
	enabled := false
	for i := range n {
		sl, err := s.slots.Get(i)
		if err != nil {
			return err
		}
		intervals[i] = time.Duration(sl.Interval) * time.Millisecond
		enabled = enabled || sl.Enabled()
	}
	if !enabled {
		return ErrNoEnabledSlots
	}
	if s.radio.Limits().MinNonConnectableInterval <= 0 {
		return ErrInvalidAdvertisingInterval
	}

	s.running = true
	s.connectable = connectable
	s.stats = Stats{Enqueued: make([]int, n)}
	s.producers = make([]eventloop.Handle, n)
	for i, iv := range intervals {
		if iv == 0 {
			continue
		}
		s.push(i)
		s.producers[i] = s.loop.PostEvery(iv, func() { s.Enqueue(i) })
	}
	slog.Info("[ADV] beacon advertising started", "connectable", connectable)

	s.manageRadio()
	return nil
}

// Stop cancels every producer and any pending manager step and stops the
// radio. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	for i, h := range s.producers {
		s.loop.Cancel(h)
		s.producers[i] = 0
	}
	s.producers = nil
	s.loop.Cancel(s.manager)
	s.manager = 0
	s.queue = s.queue[:0]
	if s.radio.Advertising() {
		if err := s.radio.Stop(); err != nil {
			slog.Warn("[ADV] stop radio failed", "error", err)
		}
	}
	if s.running {
		slog.Info("[ADV] beacon advertising stopped")
	}
	s.running = false
}

// Running reports whether beacon advertising is active.
func (s *Scheduler) Running() bool { return s.running }

// Stats returns a copy of the activity counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Enqueued = append([]int(nil), s.stats.Enqueued...)
	return st
}

// Enqueue queues slot i for advertising and wakes the radio manager if it
// went idle.
func (s *Scheduler) Enqueue(i int) {
	if !s.running {
		return
	}
	s.push(i)
	if s.manager == 0 {
		s.manageRadio()
	}
}

func (s *Scheduler) push(i int) {
	if len(s.queue) >= queueCapacity {
		slog.Warn("[ADV] queue full, dropping oldest slot", "slot", s.queue[0])
		s.queue = s.queue[1:]
		s.stats.Dropped++
	}
	s.queue = append(s.queue, i)
	if i >= 0 && i < len(s.stats.Enqueued) {
		s.stats.Enqueued[i]++
	}
}

func (s *Scheduler) pop() (int, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	i := s.queue[0]
	s.queue = s.queue[1:]
	return i, true
}

// manageRadio puts the next queued slot on the air and re-arms itself one
// minimum non-connectable interval later, less the time spent swapping.
// With nothing queued it stops the radio and stays idle until a producer
// queues a slot.
func (s *Scheduler) manageRadio() {
	start := s.loop.Now()
	s.manager = 0

	i, ok := s.pop()
	if !ok {
		if s.radio.Advertising() {
			if err := s.radio.Stop(); err != nil {
				slog.Warn("[ADV] stop radio failed", "error", err)
			}
		}
		return
	}

	if s.radio.Advertising() {
		if err := s.radio.Stop(); err != nil {
			slog.Warn("[ADV] stop radio failed", "error", err)
		}
	}
	if err := s.swap(i); err != nil {
		slog.Warn("[ADV] swap failed", "slot", i, "error", err)
	} else if err := s.radio.Start(); err != nil {
		slog.Warn("[ADV] start radio failed", "slot", i, "error", err)
	} else {
		s.slots.CountPDU()
		s.stats.Swaps++
	}

	delay := s.radio.Limits().MinNonConnectableInterval - s.loop.Now().Sub(start)
	s.manager = s.loop.PostIn(delay, s.manageRadio)
}

// swap loads slot i's refreshed frame into the radio.
func (s *Scheduler) swap(i int) error {
	sl, err := s.slots.Get(i)
	if err != nil {
		return err
	}
	data, _, err := s.slots.Advertisement(i)
	if err != nil {
		return err
	}
	if err := s.radio.SetTxPower(sl.RadioTxPower); err != nil {
		return err
	}
	return s.radio.Configure(ble.Advertisement{
		Connectable:  s.connectable,
		Interval:     s.radio.Limits().MaxInterval,
		ServiceUUIDs: []string{ble.EddystoneUUID},
		ServiceData:  data,
	})
}
