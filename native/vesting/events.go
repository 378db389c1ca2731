package vesting

import (
	"strconv"

	"emberlend/core/types"
	"emberlend/crypto"
)

const (
	eventLocked         = "vesting.locked"
	eventVested         = "vesting.vested"
	eventWithdrawn      = "vesting.withdrawn"
	eventRewardNotified = "vesting.reward.notified"
	eventRewardClaimed  = "vesting.reward.claimed"
)

func (l *Ledger) emit(eventType string, attrs map[string]string) {
	if l == nil || l.state == nil {
		return
	}
	l.state.AppendEvent(&types.Event{Type: eventType, Attributes: attrs})
}

func trancheAttributes(account crypto.Address, amount string, unlockTime uint64) map[string]string {
	return map[string]string{
		"account":    account.String(),
		"amount":     amount,
		"unlockTime": strconv.FormatUint(unlockTime, 10),
	}
}
