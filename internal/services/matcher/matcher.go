// Package matcher finds DCA sessions due in the current scheduler slot.
// Buy times live on a 15-minute UTC grid; the scheduler fires once per slot.
package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
)

const slotMinutes = 15

type chainLister interface {
	RegisteredBuyers(ctx context.Context) ([]common.Address, error)
	DestinationTokens(ctx context.Context, buyer common.Address) ([]common.Address, error)
	DCAConfig(ctx context.Context, buyer, destinationToken common.Address) (domain.Session, error)
}

// Matcher scans on-chain configs for sessions scheduled in the current slot.
type Matcher struct {
	chain  chainLister
	clock  func() time.Time
	logger *zap.Logger
}

// New creates a matcher. A nil clock defaults to time.Now; tests inject a
// fixed clock to pin the slot.
func New(chain chainLister, clock func() time.Time, logger *zap.Logger) *Matcher {
	if clock == nil {
		clock = time.Now
	}

	return &Matcher{chain: chain, clock: clock, logger: logger}
}

// CurrentSlot returns the 15-minute slot containing t, encoded as HHMM in
// UTC. Buy times are stored in UTC on chain, so the slot must be too.
func CurrentSlot(t time.Time) int {
	utc := t.UTC()
	return utc.Hour()*100 + (utc.Minute()/slotMinutes)*slotMinutes
}

// SlotString renders an HHMM slot as "HH:MM".
func SlotString(slot int) string {
	return fmt.Sprintf("%02d:%02d", slot/100, slot%100)
}

// RoundToQuarterHour snaps hour/minute to the nearest quarter hour,
// carrying into the next hour (mod 24) when minutes round up to 60.
func RoundToQuarterHour(hour, minute int) (int, int) {
	rounded := ((minute + slotMinutes/2) / slotMinutes) * slotMinutes
	if rounded == 60 {
		return (hour + 1) % 24, 0
	}
	return hour, rounded
}

// DueSessions walks every registered buyer's destination tokens and returns
// the sessions whose buy time matches the current slot and whose per-day
// amount is positive. Config reads that fail are logged and skipped so one
// bad buyer cannot block the whole slot.
func (m *Matcher) DueSessions(ctx context.Context) ([]domain.Session, error) {
	buyers, err := m.chain.RegisteredBuyers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list registered buyers")
	}

	slot := CurrentSlot(m.clock())

	if len(buyers) == 0 {
		m.logger.Info("no registered buyers")
		return nil, nil
	}

	m.logger.Info("matching sessions", zap.String("slot", SlotString(slot)), zap.Int("buyers", len(buyers)))

	var due []domain.Session
	for _, buyer := range buyers {
		tokens, err := m.chain.DestinationTokens(ctx, buyer)
		if err != nil {
			m.logger.Error("failed to list destination tokens, skipping buyer",
				zap.String("buyer", buyer.Hex()), zap.Error(err))
			continue
		}

		for _, token := range tokens {
			cfg, err := m.chain.DCAConfig(ctx, buyer, token)
			if err != nil {
				m.logger.Error("failed to read dca config, skipping session",
					zap.String("buyer", buyer.Hex()),
					zap.String("destination", token.Hex()),
					zap.Error(err))
				continue
			}

			if cfg.BuyTime != slot || cfg.AmountPerDay == nil || cfg.AmountPerDay.Sign() <= 0 {
				continue
			}

			m.logger.Info("matched dca session",
				zap.String("buyer", buyer.Hex()),
				zap.String("destination", token.Hex()),
				zap.String("slot", SlotString(slot)))
			due = append(due, cfg)
		}
	}

	return due, nil
}
