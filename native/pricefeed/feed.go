package pricefeed

import (
	"math/big"

	"emberlend/core/types"
)

const eventStatusChanged = "pricefeed.status.changed"

// State is the persistence surface for the feed's singleton oracle state.
type State interface {
	GetOracleState() (*OracleState, error)
	PutOracleState(state *OracleState) error
	AppendEvent(evt *types.Event)
}

// Feed wraps one oracle request stream in failover semantics: callers always
// receive a usable price, falling back to the last good observation whenever
// the oracle degrades. Status transitions happen only through price fetches.
type Feed struct {
	state     State
	router    Router
	assetID   string
	decimals  uint8
	timeout   uint64
	timestamp uint64
}

// NewFeed constructs a feed over one oracle asset stream. decimals is the
// oracle's native precision; timeout is the staleness horizon in seconds.
func NewFeed(assetID string, decimals uint8, timeout uint64) (*Feed, error) {
	if decimals > 38 {
		return nil, ErrInvalidDecimals
	}
	return &Feed{assetID: assetID, decimals: decimals, timeout: timeout}, nil
}

// SetState wires the feed to the external persistence layer.
func (f *Feed) SetState(state State) {
	if f == nil {
		return
	}
	f.state = state
}

// SetRouter wires the oracle router consulted on every fetch.
func (f *Feed) SetRouter(router Router) {
	if f == nil {
		return
	}
	f.router = router
}

// SetTimestamp records the transition timestamp used for staleness checks.
func (f *Feed) SetTimestamp(ts uint64) {
	if f == nil {
		return
	}
	f.timestamp = ts
}

// AssetID returns the oracle request stream this feed follows.
func (f *Feed) AssetID() string {
	if f == nil {
		return ""
	}
	return f.assetID
}

// Status reports the current persisted failover status.
func (f *Feed) Status() (Status, error) {
	if f == nil || f.state == nil {
		return StatusBroken, ErrNilState
	}
	state, err := f.ensureState()
	if err != nil {
		return StatusBroken, err
	}
	return state.Status, nil
}

// LastGoodPrice reports the last trusted price without consulting the oracle.
func (f *Feed) LastGoodPrice() (*big.Int, error) {
	if f == nil || f.state == nil {
		return nil, ErrNilState
	}
	state, err := f.ensureState()
	if err != nil {
		return nil, err
	}
	if state.LastGoodPrice == nil {
		return nil, ErrNoPrice
	}
	return copyBigInt(state.LastGoodPrice), nil
}

// FetchPrice consults the oracle and evaluates the failover transition
// without committing anything: the returned price and status are what
// UpdatePrice would persist. Pure projection.
func (f *Feed) FetchPrice() (*big.Int, Status, error) {
	if f == nil || f.state == nil {
		return nil, StatusBroken, ErrNilState
	}
	if f.router == nil {
		return nil, StatusBroken, ErrRouterNotSet
	}
	state, err := f.ensureState()
	if err != nil {
		return nil, StatusBroken, err
	}
	return f.evaluate(state)
}

// UpdatePrice consults the oracle, commits the failover transition and the
// new last good price, and emits a notification when the status changed.
func (f *Feed) UpdatePrice() (*big.Int, error) {
	if f == nil || f.state == nil {
		return nil, ErrNilState
	}
	if f.router == nil {
		return nil, ErrRouterNotSet
	}
	state, err := f.ensureState()
	if err != nil {
		return nil, err
	}
	price, next, err := f.evaluate(state)
	if err != nil {
		return nil, err
	}
	previous := state.Status
	state.Status = next
	if next == StatusWorking {
		state.LastGoodPrice = copyBigInt(price)
	}
	if err := f.state.PutOracleState(state); err != nil {
		return nil, err
	}
	if previous != next {
		f.state.AppendEvent(&types.Event{
			Type: eventStatusChanged,
			Attributes: map[string]string{
				"asset": f.assetID,
				"from":  previous.String(),
				"to":    next.String(),
				"price": price.String(),
			},
		})
	}
	return price, nil
}

// evaluate applies the failover transition table to a fresh oracle read.
func (f *Feed) evaluate(state *OracleState) (*big.Int, Status, error) {
	response := f.read()
	broken := f.responseBroken(response)
	frozen := !broken && f.responseFrozen(response)

	var next Status
	switch {
	case !broken && !frozen:
		// A fresh valid response restores Working from any state.
		return f.scalePrice(response.Price), StatusWorking, nil
	case broken:
		// A broken response while Frozen keeps the feed Frozen; otherwise
		// the feed is Broken.
		next = StatusBroken
		if state.Status == StatusFrozen {
			next = StatusFrozen
		}
	default:
		// A stale-but-valid response freezes a live feed; an already
		// Frozen feed degrades to Broken instead.
		next = StatusFrozen
		if state.Status == StatusFrozen {
			next = StatusBroken
		}
	}
	if state.LastGoodPrice == nil {
		return nil, next, ErrNoPrice
	}
	return copyBigInt(state.LastGoodPrice), next, nil
}

// read consults the router, mapping any failure to a pending response so the
// failover table handles it instead of the caller.
func (f *Feed) read() Response {
	response, err := f.router.ValueFor(f.assetID)
	if err != nil {
		return Response{Result: ResultPending}
	}
	return response
}

func (f *Feed) responseBroken(r Response) bool {
	if r.Result != ResultSolved {
		return true
	}
	if r.Timestamp == 0 || r.Timestamp > f.timestamp {
		return true
	}
	return r.Price == nil || r.Price.Sign() <= 0
}

func (f *Feed) responseFrozen(r Response) bool {
	return f.timestamp-r.Timestamp > f.timeout
}

// scalePrice converts the oracle's native precision to the fixed 18-decimal
// target, multiplying or dividing by a single power of ten.
func (f *Feed) scalePrice(price *big.Int) *big.Int {
	scaled := copyBigInt(price)
	switch {
	case f.decimals == TargetDecimals:
		return scaled
	case f.decimals < TargetDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(TargetDecimals-f.decimals)), nil)
		return scaled.Mul(scaled, factor)
	default:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.decimals-TargetDecimals)), nil)
		return scaled.Quo(scaled, factor)
	}
}

func (f *Feed) ensureState() (*OracleState, error) {
	state, err := f.state.GetOracleState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &OracleState{Status: StatusWorking}
	}
	return state, nil
}
