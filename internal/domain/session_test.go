package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestSessionActive(t *testing.T) {
	sess := Session{AmountPerDay: big.NewInt(100), DaysLeft: 5}
	require.True(t, sess.Active())

	sess.DaysLeft = 0
	require.False(t, sess.Active())

	sess.DaysLeft = 5
	sess.AmountPerDay = big.NewInt(0)
	require.False(t, sess.Active())

	sess.AmountPerDay = nil
	require.False(t, sess.Active())
}

func TestSessionEffectiveSource(t *testing.T) {
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")

	sess := Session{SourceToken: weth, NativeSource: false}
	require.Equal(t, weth, sess.EffectiveSource())

	sess.NativeSource = true
	require.Equal(t, NativeToken, sess.EffectiveSource())
}
