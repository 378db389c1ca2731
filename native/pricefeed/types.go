package pricefeed

import "math/big"

// Status enumerates the failover states of the trusted price feed.
type Status uint8

const (
	// StatusWorking means the last oracle response was fresh and usable.
	StatusWorking Status = iota
	// StatusBroken means the last response was errored, pending, or malformed.
	StatusBroken
	// StatusFrozen means the last response was valid but stale beyond the timeout.
	StatusFrozen
)

// String renders the status for events and telemetry.
func (s Status) String() string {
	switch s {
	case StatusWorking:
		return "working"
	case StatusBroken:
		return "broken"
	case StatusFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Oracle router result codes, mirroring the upstream request board semantics.
const (
	// ResultSolved marks a request that resolved with a usable value.
	ResultSolved uint16 = 200
	// ResultErrored marks a request that resolved with an error value.
	ResultErrored uint16 = 400
	// ResultPending marks a request that has not resolved yet. Router
	// failures are reported as pending so the feed degrades instead of
	// aborting the caller.
	ResultPending uint16 = 404
)

// Response is one raw oracle read before failover evaluation.
type Response struct {
	Price     *big.Int
	Timestamp uint64
	Result    uint16
}

// OracleState is the persisted singleton the feed transitions through.
type OracleState struct {
	Status        Status
	LastGoodPrice *big.Int
}

// TargetDecimals is the fixed precision every returned price is scaled to.
const TargetDecimals = 18

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
