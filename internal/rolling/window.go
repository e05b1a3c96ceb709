// Package rolling holds the time-bounded series used by admission control:
// per-symbol price windows and trade-timestamp logs. The types here are not
// safe for concurrent use; their owner serializes access.
package rolling

import (
	"sort"
	"time"
)

// Sample is a single timestamped observation
type Sample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Window keeps samples no older than span relative to the newest insert.
// Eviction is time-based, not count-based.
type Window struct {
	span    time.Duration
	samples []Sample
}

// NewWindow creates a sliding window covering span
func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

// Add appends a sample and evicts everything older than at-span
func (w *Window) Add(value float64, at time.Time) {
	w.samples = append(w.samples, Sample{Value: value, At: at})
	w.Evict(at)
}

// Evict drops samples strictly older than now-span
func (w *Window) Evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Since returns the values observed at or after t
func (w *Window) Since(t time.Time) []float64 {
	idx := sort.Search(len(w.samples), func(i int) bool {
		return !w.samples[i].At.Before(t)
	})
	out := make([]float64, 0, len(w.samples)-idx)
	for _, s := range w.samples[idx:] {
		out = append(out, s.Value)
	}
	return out
}

// Samples returns a copy of the retained samples
func (w *Window) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len returns the number of retained samples
func (w *Window) Len() int {
	return len(w.samples)
}

// PriceHistory maps symbol -> sliding price window
type PriceHistory struct {
	span    time.Duration
	windows map[string]*Window
}

// NewPriceHistory creates an empty history retaining span per symbol
func NewPriceHistory(span time.Duration) *PriceHistory {
	return &PriceHistory{
		span:    span,
		windows: make(map[string]*Window),
	}
}

// Update records a price for symbol
func (h *PriceHistory) Update(symbol string, price float64, at time.Time) {
	w, ok := h.windows[symbol]
	if !ok {
		w = NewWindow(h.span)
		h.windows[symbol] = w
	}
	w.Add(price, at)
}

// Prices returns the prices for symbol observed at or after since
func (h *PriceHistory) Prices(symbol string, since time.Time) []float64 {
	w, ok := h.windows[symbol]
	if !ok {
		return nil
	}
	return w.Since(since)
}

// Latest returns the most recent price for symbol
func (h *PriceHistory) Latest(symbol string) (float64, bool) {
	w, ok := h.windows[symbol]
	if !ok || w.Len() == 0 {
		return 0, false
	}
	return w.samples[len(w.samples)-1].Value, true
}

// Prune evicts old samples from every window and drops empty symbols
func (h *PriceHistory) Prune(now time.Time) {
	for symbol, w := range h.windows {
		w.Evict(now)
		if w.Len() == 0 {
			delete(h.windows, symbol)
		}
	}
}

// Symbols returns the number of tracked symbols
func (h *PriceHistory) Symbols() int {
	return len(h.windows)
}

// TimestampLog is an append-ordered log of event times
type TimestampLog struct {
	stamps []time.Time
}

// Add records an event at t
func (l *TimestampLog) Add(t time.Time) {
	l.stamps = append(l.stamps, t)
}

// CountSince returns the number of events at or after t
func (l *TimestampLog) CountSince(t time.Time) int {
	idx := sort.Search(len(l.stamps), func(i int) bool {
		return !l.stamps[i].Before(t)
	})
	return len(l.stamps) - idx
}

// Prune drops events strictly before cutoff
func (l *TimestampLog) Prune(cutoff time.Time) {
	i := 0
	for i < len(l.stamps) && l.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Since returns a copy of the events at or after t
func (l *TimestampLog) Since(t time.Time) []time.Time {
	idx := sort.Search(len(l.stamps), func(i int) bool {
		return !l.stamps[i].Before(t)
	})
	return append([]time.Time(nil), l.stamps[idx:]...)
}

// Len returns the number of retained events
func (l *TimestampLog) Len() int {
	return len(l.stamps)
}
