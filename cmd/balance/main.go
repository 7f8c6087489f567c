// Command balance prints the funding wallet's USDC balance and exchange
// allowances. A preflight check before pointing the mirror at real money.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dotenv"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/polygonutil"
)

// Polygon mainnet exchange contracts that must be approved to move USDC.
var (
	ctfExchangeAddress     = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	negRiskExchangeAddress = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var addrFlag string
	flag.StringVar(&addrFlag, "address", "", "Wallet address to check (default: FUNDER/CLOB_FUNDER or signer from PRIVATE_KEY)")
	flag.Parse()

	rpcURL, err := polygonutil.RPCURLFromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	owner, ownerSrc, err := resolveOwnerAddress(addrFlag)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	reader, err := polygonutil.NewBalanceReader(rpcURL, owner)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	balance, err := reader.Balance(ctx)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	allowances, err := reader.Allowances(ctx, []common.Address{ctfExchangeAddress, negRiskExchangeAddress})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	fmt.Printf("owner: %s (%s)\n", owner.Hex(), ownerSrc)
	fmt.Printf("usdc_balance: %.6f\n", balance)
	fmt.Printf("allowance_ctf_exchange: %.6f\n", polygonutil.MicrosToUSDC(allowances[ctfExchangeAddress]))
	fmt.Printf("allowance_neg_risk_exchange: %.6f\n", polygonutil.MicrosToUSDC(allowances[negRiskExchangeAddress]))
}

func resolveOwnerAddress(addrFlag string) (common.Address, string, error) {
	if strings.TrimSpace(addrFlag) != "" {
		raw := strings.TrimSpace(addrFlag)
		if !common.IsHexAddress(raw) {
			return common.Address{}, "", fmt.Errorf("invalid --address %q", raw)
		}
		return common.HexToAddress(raw), "--address", nil
	}

	if envFunder := firstNonEmpty(os.Getenv("CLOB_FUNDER"), os.Getenv("FUNDER")); strings.TrimSpace(envFunder) != "" {
		if !common.IsHexAddress(envFunder) {
			return common.Address{}, "", fmt.Errorf("invalid FUNDER/CLOB_FUNDER env %q", envFunder)
		}
		return common.HexToAddress(envFunder), "FUNDER", nil
	}

	if pkHex := firstNonEmpty(os.Getenv("CLOB_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")); strings.TrimSpace(pkHex) != "" {
		pkHex = strings.TrimSpace(strings.TrimPrefix(pkHex, "0x"))
		pk, err := crypto.HexToECDSA(pkHex)
		if err != nil {
			return common.Address{}, "", fmt.Errorf("invalid PRIVATE_KEY: %w", err)
		}
		return crypto.PubkeyToAddress(pk.PublicKey), "PRIVATE_KEY", nil
	}

	return common.Address{}, "", fmt.Errorf("wallet required: set FUNDER/CLOB_FUNDER, PRIVATE_KEY/CLOB_PRIVATE_KEY, or pass --address")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
