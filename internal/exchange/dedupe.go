package exchange

import "pairsbot-go/internal/signal"

const defaultDedupeWindow = 1024

type barKey struct {
	symbol string
	open   int64
}

// Deduper drops bars already seen, keyed by symbol and open time. It remembers the most recent
// window keys; reconnects replay at most a few candles so a small window suffices.
type Deduper struct {
	window int
	seen   map[barKey]struct{}
	order  []barKey
	next   int
}

// NewDeduper remembers up to window keys; zero means 1024.
func NewDeduper(window int) *Deduper {
	if window <= 0 {
		window = defaultDedupeWindow
	}
	return &Deduper{window: window, seen: make(map[barKey]struct{}, window), order: make([]barKey, 0, window)}
}

// Seen reports whether bar was already observed and records it otherwise.
func (d *Deduper) Seen(bar signal.Bar) bool {
	k := barKey{symbol: bar.Symbol, open: bar.OpenTime.UnixNano()}
	if _, ok := d.seen[k]; ok {
		return true
	}
	if len(d.order) < d.window {
		d.order = append(d.order, k)
	} else {
		delete(d.seen, d.order[d.next])
		d.order[d.next] = k
		d.next = (d.next + 1) % d.window
	}
	d.seen[k] = struct{}{}
	return false
}

// Len is the number of remembered keys.
func (d *Deduper) Len() int { return len(d.seen) }
