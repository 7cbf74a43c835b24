package schema

import (
	"time"

	"github.com/yanun0323/errors"
)

// SnapshotVersion is bumped when the snapshot layout changes in a way
// older readers cannot handle.
const SnapshotVersion = 1

// Snapshot is the full durable state of one account profile.
type Snapshot struct {
	Version   int               `json:"version"`
	Profile   string            `json:"profile"`
	SavedAt   time.Time         `json:"saved_at"`
	Wallet    *Wallet           `json:"wallet"`
	Positions []*Position       `json:"positions"`
	Orders    []*Order          `json:"orders"`
	Trades    []*TradeRecord    `json:"trades"`
	Funding   []*FundingPayment `json:"funding"`
	Leverages map[string]int    `json:"leverages,omitempty"`
}

// Validate checks the snapshot is structurally usable before it is
// loaded into an engine.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if s.Version != SnapshotVersion {
		return errors.New("unsupported snapshot version").
			With("version", s.Version).
			With("supported", SnapshotVersion)
	}
	if s.Wallet == nil {
		return errors.New("snapshot missing wallet")
	}
	if s.Wallet.Balance.IsNegative() {
		return errors.New("snapshot wallet balance is negative").
			With("balance", s.Wallet.Balance)
	}
	seen := make(map[string]struct{}, len(s.Positions))
	for _, p := range s.Positions {
		if p.Status != PositionStatusOpen {
			continue
		}
		if _, dup := seen[p.Symbol]; dup {
			return errors.New("snapshot has two open positions on one symbol").
				With("symbol", p.Symbol)
		}
		seen[p.Symbol] = struct{}{}
	}
	return nil
}
