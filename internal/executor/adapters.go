package executor

import (
	"context"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/clob"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dataapi"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/risk"
)

// ClobPrices adapts the CLOB order book to the PriceSource interface.
type ClobPrices struct {
	Client *clob.Client
}

func (p ClobPrices) CurrentPrice(ctx context.Context, assetID string, side risk.Side) (float64, error) {
	return p.Client.BestPrice(ctx, assetID, clob.Side(side))
}

// DataAPIPositions answers holding queries from the data API position feed.
type DataAPIPositions struct {
	Client *dataapi.Client
}

func (s DataAPIPositions) HeldSize(ctx context.Context, owner, conditionID string) (float64, error) {
	ps, err := s.Client.GetPositions(ctx, owner, 500)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range ps {
		if p.ConditionID == conditionID {
			total += p.Size
		}
	}
	return total, nil
}

// DataAPIExposure sums the current value of one account's open positions,
// the risk engine's total-exposure input.
type DataAPIExposure struct {
	Client *dataapi.Client
	Owner  string
}

func (s DataAPIExposure) TotalExposure(ctx context.Context) (float64, error) {
	ps, err := s.Client.GetPositions(ctx, s.Owner, 500)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range ps {
		total += p.CurrentValue
	}
	return total, nil
}
