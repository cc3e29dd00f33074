package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// USDCDecimals is the token precision of USDC on every chain Circle supports.
const USDCDecimals = 6

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

type contractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenBalances reads ERC-20 balances for one token contract.
type TokenBalances struct {
	caller contractCaller
	token  common.Address
	abi    abi.ABI
	closer func()
}

// DialTokenBalances connects to an EVM JSON-RPC endpoint.
func DialTokenBalances(ctx context.Context, rpcURL, tokenAddress string) (*TokenBalances, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	tb, err := NewTokenBalances(client, tokenAddress)
	if err != nil {
		client.Close()
		return nil, err
	}
	tb.closer = client.Close
	return tb, nil
}

func NewTokenBalances(caller contractCaller, tokenAddress string) (*TokenBalances, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &TokenBalances{caller: caller, token: common.HexToAddress(tokenAddress), abi: parsed}, nil
}

// BalanceOf returns the raw token balance of owner.
func (t *TokenBalances) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid address %q", owner)
	}
	data, err := t.abi.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := t.caller.CallContract(ctx, ethereum.CallMsg{To: &t.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	values, err := t.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, errors.New("unexpected balanceOf result")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf result type")
	}
	return balance, nil
}

func (t *TokenBalances) Close() {
	if t.closer != nil {
		t.closer()
	}
}

// TokenToMinor converts a raw token amount to currency minor units (cents), rounding down.
func TokenToMinor(raw *big.Int, decimals int) int64 {
	if raw == nil || raw.Sign() <= 0 {
		return 0
	}
	minor := new(big.Int).Set(raw)
	switch {
	case decimals > 2:
		minor.Quo(minor, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil))
	case decimals < 2:
		minor.Mul(minor, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(2-decimals)), nil))
	}
	if !minor.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return minor.Int64()
}
