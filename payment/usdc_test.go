package payment

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"

type fakeCaller struct {
	balances map[common.Address]*big.Int
	lastTo   common.Address
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastTo = *call.To
	// 4-byte selector followed by the left-padded owner address
	owner := common.BytesToAddress(call.Data[4:36])
	balance := f.balances[owner]
	if balance == nil {
		balance = new(big.Int)
	}
	return common.LeftPadBytes(balance.Bytes(), 32), nil
}

func TestTokenBalances(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	caller := &fakeCaller{balances: map[common.Address]*big.Int{owner: big.NewInt(1_600_000)}}
	tb, err := NewTokenBalances(caller, testToken)
	require.NoError(t, err)

	got, err := tb.BalanceOf(context.Background(), owner.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1_600_000), got.Int64())
	assert.Equal(t, common.HexToAddress(testToken), caller.lastTo)

	empty, err := tb.BalanceOf(context.Background(), "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	assert.Zero(t, empty.Sign())

	_, err = tb.BalanceOf(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestNewTokenBalancesRejectsBadAddress(t *testing.T) {
	_, err := NewTokenBalances(&fakeCaller{}, "0x123")
	assert.Error(t, err)
}

func TestTokenToMinor(t *testing.T) {
	tests := []struct {
		raw      int64
		decimals int
		want     int64
	}{
		{1_600_000, USDCDecimals, 160},
		{1_609_999, USDCDecimals, 160},
		{9_999, USDCDecimals, 0},
		{0, USDCDecimals, 0},
		{-5, USDCDecimals, 0},
		{160, 2, 160},
		{16, 1, 160},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TokenToMinor(big.NewInt(tt.raw), tt.decimals), "%d/%d", tt.raw, tt.decimals)
	}
	assert.Zero(t, TokenToMinor(nil, USDCDecimals))
}
