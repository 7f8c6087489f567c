package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/clob"
)

// MarketOrderClient is the slice of the CLOB client the trader needs.
type MarketOrderClient interface {
	PlaceMarketOrder(ctx context.Context, tokenID string, side clob.Side, amount decimal.Decimal, orderType clob.OrderType) (*clob.OrderResponse, error)
}

// Trader turns executor orders into signed CLOB market orders. Buys spend the
// adjusted USDC notional; sells convert it to shares at the decision price,
// never exceeding our actual holding. Merge closes the whole holding.
type Trader struct {
	client    MarketOrderClient
	positions PositionSource
	ownWallet string
	orderType clob.OrderType
}

func NewTrader(client MarketOrderClient, positions PositionSource, ownWallet string, orderType clob.OrderType) *Trader {
	if orderType == "" {
		orderType = clob.OrderTypeFAK
	}
	return &Trader{client: client, positions: positions, ownWallet: ownWallet, orderType: orderType}
}

func (t *Trader) PlaceOrder(ctx context.Context, o Order) error {
	var (
		side   clob.Side
		amount decimal.Decimal
	)

	switch o.Condition {
	case ConditionBuy:
		side = clob.SideBuy
		amount = decimal.NewFromFloat(o.AmountUSDC)

	case ConditionSell:
		if o.Price <= 0 {
			return fmt.Errorf("trader: sell requires a positive price, got %.4f", o.Price)
		}
		held, err := t.positions.HeldSize(ctx, t.ownWallet, o.ConditionID)
		if err != nil {
			return fmt.Errorf("trader: own holding for %s: %w", o.ConditionID, err)
		}
		if held <= 0 {
			return fmt.Errorf("trader: nothing held in %s to sell", o.ConditionID)
		}
		shares := o.AmountUSDC / o.Price
		if shares > held {
			shares = held
		}
		side = clob.SideSell
		amount = decimal.NewFromFloat(shares)

	case ConditionMerge:
		held, err := t.positions.HeldSize(ctx, t.ownWallet, o.ConditionID)
		if err != nil {
			return fmt.Errorf("trader: own holding for %s: %w", o.ConditionID, err)
		}
		if held <= 0 {
			return fmt.Errorf("trader: nothing held in %s to close", o.ConditionID)
		}
		side = clob.SideSell
		amount = decimal.NewFromFloat(held)

	default:
		return fmt.Errorf("trader: unknown condition %q", o.Condition)
	}

	resp, err := t.client.PlaceMarketOrder(ctx, o.AssetID, side, amount, t.orderType)
	if err != nil {
		return fmt.Errorf("trader: %s %s: %w", side, o.AssetID, err)
	}
	if !resp.Filled() {
		return fmt.Errorf("trader: order %s not filled: %s", resp.OrderID, resp.ErrorMsg)
	}
	return nil
}

// DryRunPlacer logs orders instead of sending them. Used when trading is
// disabled in the configuration.
type DryRunPlacer struct{}

func (DryRunPlacer) PlaceOrder(_ context.Context, o Order) error {
	log.Printf("[info] dry-run %s %s $%.2f @ %.4f (%s)", o.Condition, o.ConditionID, o.AmountUSDC, o.Price, o.Title)
	return nil
}
