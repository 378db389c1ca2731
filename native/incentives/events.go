package incentives

import (
	"strconv"

	"emberlend/core/types"
	"emberlend/crypto"
)

const (
	eventPoolRegistered = "incentives.pool.registered"
	eventDeposited      = "incentives.deposited"
	eventWithdrawn      = "incentives.withdrawn"
	eventRewardVested   = "incentives.reward.vested"
)

func (e *Engine) emit(eventType string, attrs map[string]string) {
	if e == nil || e.state == nil {
		return
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["distributor"] = e.distributorID
	e.state.AppendEvent(&types.Event{Type: eventType, Attributes: attrs})
}

func poolAttributes(token crypto.Address, allocPoints uint64) map[string]string {
	return map[string]string{
		"token":       token.String(),
		"allocPoints": strconv.FormatUint(allocPoints, 10),
	}
}

func stakeAttributes(token, account crypto.Address, amount string) map[string]string {
	return map[string]string{
		"token":   token.String(),
		"account": account.String(),
		"amount":  amount,
	}
}
