package matcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
)

var (
	buyerA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	buyerB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenX = common.HexToAddress("0x0606FC632ee812bA970af72F8489baAa443C4B98")
	tokenY = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

func TestCurrentSlot(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"start of hour", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), 900},
		{"mid slot floors", time.Date(2025, 6, 1, 9, 14, 59, 0, time.UTC), 900},
		{"second slot", time.Date(2025, 6, 1, 9, 15, 0, 0, time.UTC), 915},
		{"last slot", time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC), 2345},
		{"non-utc zone normalized", time.Date(2025, 6, 1, 12, 30, 0, 0, time.FixedZone("UTC+3", 3*3600)), 930},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CurrentSlot(tt.at))
		})
	}
}

func TestSlotString(t *testing.T) {
	require.Equal(t, "09:00", SlotString(900))
	require.Equal(t, "23:45", SlotString(2345))
	require.Equal(t, "00:00", SlotString(0))
}

func TestRoundToQuarterHour(t *testing.T) {
	tests := []struct {
		hour, minute         int
		wantHour, wantMinute int
	}{
		{9, 0, 9, 0},
		{9, 7, 9, 0},
		{9, 8, 9, 15},
		{9, 22, 9, 15},
		{9, 23, 9, 30},
		{9, 38, 9, 45},
		{9, 53, 10, 0},  // rounds up into the next hour
		{23, 53, 0, 0},  // hour carry wraps midnight
	}

	for _, tt := range tests {
		h, m := RoundToQuarterHour(tt.hour, tt.minute)
		require.Equal(t, tt.wantHour, h, "hour for %02d:%02d", tt.hour, tt.minute)
		require.Equal(t, tt.wantMinute, m, "minute for %02d:%02d", tt.hour, tt.minute)
	}
}

type fakeChain struct {
	buyers     []common.Address
	buyersErr  error
	tokens     map[common.Address][]common.Address
	tokensErr  map[common.Address]error
	configs    map[string]domain.Session
	configErrs map[string]error
}

func key(buyer, token common.Address) string {
	return buyer.Hex() + "-" + token.Hex()
}

func (f *fakeChain) RegisteredBuyers(ctx context.Context) ([]common.Address, error) {
	return f.buyers, f.buyersErr
}

func (f *fakeChain) DestinationTokens(ctx context.Context, buyer common.Address) ([]common.Address, error) {
	if err := f.tokensErr[buyer]; err != nil {
		return nil, err
	}
	return f.tokens[buyer], nil
}

func (f *fakeChain) DCAConfig(ctx context.Context, buyer, token common.Address) (domain.Session, error) {
	if err := f.configErrs[key(buyer, token)]; err != nil {
		return domain.Session{}, err
	}
	return f.configs[key(buyer, token)], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDueSessionsMatchesCurrentSlot(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 20, 0, 0, time.UTC) // slot 09:15

	chain := &fakeChain{
		buyers: []common.Address{buyerA, buyerB},
		tokens: map[common.Address][]common.Address{
			buyerA: {tokenX, tokenY},
			buyerB: {tokenX},
		},
		configs: map[string]domain.Session{
			key(buyerA, tokenX): {Buyer: buyerA, DestinationToken: tokenX, AmountPerDay: big.NewInt(100), DaysLeft: 5, BuyTime: 915},
			key(buyerA, tokenY): {Buyer: buyerA, DestinationToken: tokenY, AmountPerDay: big.NewInt(100), DaysLeft: 5, BuyTime: 930},
			key(buyerB, tokenX): {Buyer: buyerB, DestinationToken: tokenX, AmountPerDay: big.NewInt(0), DaysLeft: 5, BuyTime: 915},
		},
	}

	m := New(chain, fixedClock(now), zap.NewNop())

	due, err := m.DueSessions(context.Background())
	require.NoError(t, err)

	// only buyerA/tokenX: right slot and positive amount
	require.Len(t, due, 1)
	require.Equal(t, buyerA, due[0].Buyer)
	require.Equal(t, tokenX, due[0].DestinationToken)
}

func TestDueSessionsEmptyBuyers(t *testing.T) {
	m := New(&fakeChain{}, fixedClock(time.Now()), zap.NewNop())

	due, err := m.DueSessions(context.Background())
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestDueSessionsBuyerListFailureIsFatal(t *testing.T) {
	chain := &fakeChain{buyersErr: errors.New("rpc down")}
	m := New(chain, fixedClock(time.Now()), zap.NewNop())

	_, err := m.DueSessions(context.Background())
	require.Error(t, err)
}

func TestDueSessionsSkipsFailingBuyer(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 20, 0, 0, time.UTC)

	chain := &fakeChain{
		buyers: []common.Address{buyerA, buyerB},
		tokens: map[common.Address][]common.Address{
			buyerB: {tokenX},
		},
		tokensErr: map[common.Address]error{buyerA: errors.New("rpc hiccup")},
		configs: map[string]domain.Session{
			key(buyerB, tokenX): {Buyer: buyerB, DestinationToken: tokenX, AmountPerDay: big.NewInt(50), DaysLeft: 3, BuyTime: 915},
		},
	}

	m := New(chain, fixedClock(now), zap.NewNop())

	due, err := m.DueSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, buyerB, due[0].Buyer)
}
