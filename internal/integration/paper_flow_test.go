package integration

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pairsbot-go/internal/exchange"
	"pairsbot-go/internal/execution"
	"pairsbot-go/internal/ledger"
	"pairsbot-go/internal/live"
	"pairsbot-go/internal/paper"
	"pairsbot-go/internal/pairs"
	"pairsbot-go/internal/risk"
	"pairsbot-go/internal/spread"
	"pairsbot-go/internal/strategy"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type notifyingLedger struct {
	*paper.Ledger
	once sync.Once
	done chan struct{}
}

func (n *notifyingLedger) Record(f execution.Fill) {
	n.Ledger.Record(f)
	n.once.Do(func() { close(n.done) })
}

func TestPaperFlowProducesOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out syncBuffer
	logger := zerolog.New(&out)

	feed := exchange.NewFeed(exchange.ProviderStub, []string{"SANDUSDT", "MANAUSDT"}, zerolog.Nop(),
		exchange.WithStubInterval(5*time.Millisecond))
	trader, err := live.NewTrader(live.Config{
		Pair: pairs.Pair{
			Crypto1: "SAND",
			Crypto2: "MANA",
			Params:  spread.Params{HedgeRatio: 1, Mean: 0, Std: 0.03},
		},
		Thresholds: strategy.Thresholds{Entry: 1.5, Exit: 0.3, Stop: 3},
		Costs:      ledger.Costs{Fee: 0.0004},
		Notional:   20,
		Risk:       risk.Limits{MaxNotionalPerTrade: 20},
	}, logger)
	if err != nil {
		t.Fatalf("NewTrader returned error: %v", err)
	}

	account := paper.NewAccount(1000, 0)
	fills := &notifyingLedger{Ledger: paper.NewLedger(4), done: make(chan struct{})}
	runner := live.NewRunner(feed, trader, paper.NewVenue(account, 2), logger, live.WithFillRecorders(fills))

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(runCtx) }()

	select {
	case <-fills.done:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for integration flow")
	}
	stop()
	if err := <-errCh; err != nil {
		t.Fatalf("runner returned error: %v", err)
	}

	got := fills.Snapshot()
	if len(got) == 0 || got[0].Qty <= 0 || got[0].Price <= 0 {
		t.Fatalf("unexpected fills %+v", got)
	}
	if snap := account.Snapshot(nil); snap.Cash <= 0 {
		t.Fatalf("expected positive cash")
	}
	if !strings.Contains(out.String(), "submit order") {
		t.Fatalf("expected log output to include submit order, got %s", out.String())
	}
}
