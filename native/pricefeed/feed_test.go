package pricefeed

import (
	"errors"
	"math/big"
	"testing"

	"emberlend/core/types"
)

type mockState struct {
	oracle *OracleState
	events []types.Event
	puts   int
}

func (m *mockState) GetOracleState() (*OracleState, error) {
	if m.oracle == nil {
		return nil, nil
	}
	clone := &OracleState{Status: m.oracle.Status}
	if m.oracle.LastGoodPrice != nil {
		clone.LastGoodPrice = new(big.Int).Set(m.oracle.LastGoodPrice)
	}
	return clone, nil
}

func (m *mockState) PutOracleState(state *OracleState) error {
	m.oracle = state
	m.puts++
	return nil
}

func (m *mockState) AppendEvent(evt *types.Event) {
	m.events = append(m.events, *evt)
}

const testAsset = "emb-usd"

func newTestFeed(t *testing.T, decimals uint8) (*Feed, *mockState, *ManualRouter) {
	t.Helper()
	feed, err := NewFeed(testAsset, decimals, 3600)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	state := &mockState{}
	router := NewManualRouter()
	feed.SetState(state)
	feed.SetRouter(router)
	feed.SetTimestamp(10_000)
	return feed, state, router
}

// seedWorking commits one fresh good price so lastGoodPrice is populated.
func seedWorking(t *testing.T, feed *Feed, router *ManualRouter, price int64) {
	t.Helper()
	router.Set(testAsset, big.NewInt(price), 10_000, ResultSolved)
	if _, err := feed.UpdatePrice(); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func forceStatus(t *testing.T, state *mockState, status Status) {
	t.Helper()
	if state.oracle == nil {
		t.Fatalf("no oracle state to force")
	}
	state.oracle.Status = status
}

func TestTransitionTable(t *testing.T) {
	fresh := func(r *ManualRouter) { r.Set(testAsset, big.NewInt(200), 10_000, ResultSolved) }
	brokenResp := func(r *ManualRouter) { r.Set(testAsset, big.NewInt(200), 10_000, ResultPending) }
	frozenResp := func(r *ManualRouter) { r.Set(testAsset, big.NewInt(200), 5_000, ResultSolved) }

	cases := []struct {
		name     string
		start    Status
		response func(*ManualRouter)
		next     Status
		fallback bool
	}{
		{"working broken response", StatusWorking, brokenResp, StatusBroken, true},
		{"working frozen response", StatusWorking, frozenResp, StatusFrozen, true},
		{"working fresh response", StatusWorking, fresh, StatusWorking, false},
		{"broken fresh response", StatusBroken, fresh, StatusWorking, false},
		{"broken frozen response", StatusBroken, frozenResp, StatusFrozen, true},
		{"broken broken response", StatusBroken, brokenResp, StatusBroken, true},
		{"frozen fresh response", StatusFrozen, fresh, StatusWorking, false},
		{"frozen frozen response", StatusFrozen, frozenResp, StatusBroken, true},
		{"frozen broken response", StatusFrozen, brokenResp, StatusFrozen, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			feed, state, router := newTestFeed(t, 18)
			seedWorking(t, feed, router, 100)
			forceStatus(t, state, tc.start)

			tc.response(router)
			price, err := feed.UpdatePrice()
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if state.oracle.Status != tc.next {
				t.Fatalf("next status: got %s want %s", state.oracle.Status, tc.next)
			}
			want := big.NewInt(200)
			if tc.fallback {
				want = big.NewInt(100)
			}
			if price.Cmp(want) != 0 {
				t.Fatalf("price: got %s want %s", price, want)
			}
		})
	}
}

func TestPendingResponseFallsBackToLastGoodPrice(t *testing.T) {
	feed, state, router := newTestFeed(t, 18)
	seedWorking(t, feed, router, 777)

	// A pending result is broken regardless of the reported price and
	// timestamp looking healthy.
	router.Set(testAsset, big.NewInt(999), 10_000, ResultPending)
	price, err := feed.UpdatePrice()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.oracle.Status != StatusBroken {
		t.Fatalf("status: got %s want broken", state.oracle.Status)
	}
	if price.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("price: got %s want 777", price)
	}
}

func TestRouterFailureMapsToPending(t *testing.T) {
	feed, state, router := newTestFeed(t, 18)
	seedWorking(t, feed, router, 500)

	router.Fail(testAsset, errors.New("gateway unreachable"))
	price, err := feed.UpdatePrice()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.oracle.Status != StatusBroken {
		t.Fatalf("status: got %s want broken", state.oracle.Status)
	}
	if price.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("price: got %s want 500", price)
	}
}

func TestFreshResponseConvergesToWorking(t *testing.T) {
	for _, start := range []Status{StatusWorking, StatusBroken, StatusFrozen} {
		feed, state, router := newTestFeed(t, 18)
		seedWorking(t, feed, router, 100)
		forceStatus(t, state, start)

		router.Set(testAsset, big.NewInt(321), 9_999, ResultSolved)
		price, err := feed.UpdatePrice()
		if err != nil {
			t.Fatalf("update from %s: %v", start, err)
		}
		if state.oracle.Status != StatusWorking {
			t.Fatalf("from %s: got %s want working", start, state.oracle.Status)
		}
		if price.Cmp(big.NewInt(321)) != 0 {
			t.Fatalf("from %s: price %s", start, price)
		}
		if state.oracle.LastGoodPrice.Cmp(big.NewInt(321)) != 0 {
			t.Fatalf("from %s: lastGoodPrice %s", start, state.oracle.LastGoodPrice)
		}
	}
}

func TestFetchPriceIsPureProjection(t *testing.T) {
	feed, state, router := newTestFeed(t, 18)
	seedWorking(t, feed, router, 100)
	putsAfterSeed := state.puts

	router.Set(testAsset, big.NewInt(200), 10_000, ResultPending)
	price, next, err := feed.FetchPrice()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if next != StatusBroken || price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("fetch: price %s status %s", price, next)
	}
	if state.puts != putsAfterSeed {
		t.Fatalf("fetch persisted state")
	}
	if state.oracle.Status != StatusWorking {
		t.Fatalf("fetch mutated status to %s", state.oracle.Status)
	}
}

func TestStatusChangeEmitsEvent(t *testing.T) {
	feed, state, router := newTestFeed(t, 18)
	seedWorking(t, feed, router, 100)
	state.events = nil

	// Working -> Working: no notification.
	router.Set(testAsset, big.NewInt(110), 10_000, ResultSolved)
	if _, err := feed.UpdatePrice(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(state.events) != 0 {
		t.Fatalf("unexpected event on unchanged status")
	}

	// Working -> Broken: one notification.
	router.Set(testAsset, nil, 10_000, ResultSolved)
	if _, err := feed.UpdatePrice(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(state.events) != 1 {
		t.Fatalf("expected one event, got %d", len(state.events))
	}
	evt := state.events[0]
	if evt.Type != eventStatusChanged || evt.Attributes["to"] != "broken" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestPriceScaling(t *testing.T) {
	cases := []struct {
		decimals uint8
		raw      int64
		want     string
	}{
		{6, 2_500_000, "2500000000000000000"}, // 2.5 with 6 decimals -> 18
		{18, 42, "42"},                        // already at target
		{20, 3_700, "37"},                     // divide down to target
	}
	for _, tc := range cases {
		feed, _, router := newTestFeed(t, tc.decimals)
		router.Set(testAsset, big.NewInt(tc.raw), 10_000, ResultSolved)
		price, err := feed.UpdatePrice()
		if err != nil {
			t.Fatalf("decimals %d: %v", tc.decimals, err)
		}
		if price.String() != tc.want {
			t.Fatalf("decimals %d: got %s want %s", tc.decimals, price, tc.want)
		}
	}
}

func TestZeroAndFutureTimestampsAreBroken(t *testing.T) {
	feed, state, router := newTestFeed(t, 18)
	seedWorking(t, feed, router, 100)

	router.Set(testAsset, big.NewInt(200), 0, ResultSolved)
	if _, err := feed.UpdatePrice(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.oracle.Status != StatusBroken {
		t.Fatalf("zero timestamp: got %s want broken", state.oracle.Status)
	}

	forceStatus(t, state, StatusWorking)
	router.Set(testAsset, big.NewInt(200), 99_999, ResultSolved)
	if _, err := feed.UpdatePrice(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.oracle.Status != StatusBroken {
		t.Fatalf("future timestamp: got %s want broken", state.oracle.Status)
	}
}

func TestNoFallbackWithoutHistory(t *testing.T) {
	feed, _, router := newTestFeed(t, 18)
	router.Set(testAsset, big.NewInt(0), 10_000, ResultSolved)
	if _, err := feed.UpdatePrice(); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}
