// Package polygonutil reads USDC state from Polygon: the collateral balance
// feeding the risk engine's balance protection, and exchange allowances for
// the diagnostic CLI.
package polygonutil

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const USDCTokenDecimals = 6

var USDCTokenAddress = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

var (
	erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

// MicrosToUSDC converts 1e6 token units to a USDC amount.
func MicrosToUSDC(micros uint64) float64 {
	return float64(micros) / 1e6
}

func uint64FromUint256Saturating(x *big.Int) uint64 {
	// USDC amounts (6 decimals) easily fit in uint64 for balances and per-trade
	// accounting, but allowances are frequently set to max(uint256) which does not.
	if x == nil {
		return 0
	}
	if x.Sign() <= 0 {
		return 0
	}
	if x.IsUint64() {
		return x.Uint64()
	}
	return math.MaxUint64
}

func RPCURLFromEnv() (string, error) {
	rpcURL := strings.TrimSpace(firstNonEmpty(os.Getenv("RPC_WS_URL"), os.Getenv("RPC_URL"), os.Getenv("POLYGON_WS_URL")))
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_WS_URL or RPC_URL required (set RPC_WS_URL in .env)")
	}
	if !strings.HasPrefix(rpcURL, "wss") && !strings.HasPrefix(rpcURL, "http") {
		return "", fmt.Errorf("polygon RPC URL must be wss://... or http(s)://..., got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return "", fmt.Errorf("polygon RPC URL still contains placeholder YOUR_KEY. Set RPC_WS_URL/RPC_URL to your provider URL")
	}
	return rpcURL, nil
}

// BalanceReader answers repeated USDC balance queries for one owner over a
// single RPC connection. It implements the risk engine's balance source.
type BalanceReader struct {
	rpcURL string
	owner  common.Address

	mu     sync.Mutex
	client *ethclient.Client
}

func NewBalanceReader(rpcURL string, owner common.Address) (*BalanceReader, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, fmt.Errorf("polygon RPC URL missing")
	}
	if (owner == common.Address{}) {
		return nil, fmt.Errorf("owner address missing")
	}
	return &BalanceReader{rpcURL: rpcURL, owner: owner}, nil
}

// Balance returns the owner's USDC balance in whole USDC. The connection is
// dialed lazily and redialed after an RPC failure.
func (r *BalanceReader) Balance(ctx context.Context) (float64, error) {
	micros, err := r.BalanceMicros(ctx)
	if err != nil {
		return 0, err
	}
	return MicrosToUSDC(micros), nil
}

func (r *BalanceReader) BalanceMicros(ctx context.Context) (uint64, error) {
	client, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}

	data := make([]byte, 0, 4+32)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(r.owner.Bytes(), 32)...)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &USDCTokenAddress, Data: data}, nil)
	if err != nil {
		r.dropConn()
		return 0, fmt.Errorf("usdc balanceOf(%s): %w", r.owner.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("usdc balanceOf returned empty result")
	}

	bal := new(big.Int).SetBytes(out)
	if !bal.IsUint64() {
		return 0, fmt.Errorf("usdc balance overflows uint64")
	}
	return bal.Uint64(), nil
}

// Allowances returns the owner's USDC allowance per spender, saturated to
// MaxUint64 since allowances are commonly set to max(uint256).
func (r *BalanceReader) Allowances(ctx context.Context, spenders []common.Address) (map[common.Address]uint64, error) {
	client, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address]uint64, len(spenders))
	seen := make(map[common.Address]struct{}, len(spenders))
	for _, sp := range spenders {
		if (sp == common.Address{}) {
			continue
		}
		if _, ok := seen[sp]; ok {
			continue
		}
		seen[sp] = struct{}{}

		data := make([]byte, 0, 4+32+32)
		data = append(data, erc20AllowanceSelector...)
		data = append(data, common.LeftPadBytes(r.owner.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(sp.Bytes(), 32)...)

		res, err := client.CallContract(ctx, ethereum.CallMsg{To: &USDCTokenAddress, Data: data}, nil)
		if err != nil {
			r.dropConn()
			return nil, fmt.Errorf("usdc allowance(%s,%s): %w", r.owner.Hex(), sp.Hex(), err)
		}
		if len(res) == 0 {
			return nil, fmt.Errorf("usdc allowance returned empty result")
		}
		out[sp] = uint64FromUint256Saturating(new(big.Int).SetBytes(res))
	}
	return out, nil
}

func (r *BalanceReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func (r *BalanceReader) conn(ctx context.Context) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := ethclient.DialContext(ctx, r.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon RPC: %w", err)
	}
	r.client = client
	return client, nil
}

func (r *BalanceReader) dropConn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
