package clob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Book is the order book summary for one token. The CLOB API sorts both sides
// with the best level last.
type Book struct {
	Market   string  `json:"market"`
	AssetID  string  `json:"asset_id"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
	MinOrder string  `json:"min_order_size"`
	TickSize string  `json:"tick_size"`
	NegRisk  bool    `json:"neg_risk"`
}

type Level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*Book, error) {
	params := url.Values{"token_id": []string{tokenID}}
	var book Book
	if err := c.doJSON(ctx, http.MethodGet, "/book", params, nil, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// BestPrice returns the top-of-book execution price for side as a float:
// best ask for buys, best bid for sells.
func (c *Client) BestPrice(ctx context.Context, tokenID string, side Side) (float64, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	levels := book.Asks
	if side == SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 0, fmt.Errorf("empty %s book for token %s", side, tokenID)
	}
	p, err := decimal.NewFromString(levels[len(levels)-1].Price)
	if err != nil {
		return 0, fmt.Errorf("parse book price %q: %w", levels[len(levels)-1].Price, err)
	}
	f, _ := p.Float64()
	return f, nil
}

// marketPrice walks the book from the best level until the cumulative depth
// covers amount. For buys amount is collateral (USDC), for sells it is
// shares, mirroring how market orders consume the book.
func marketPrice(book *Book, side Side, amount decimal.Decimal, orderType OrderType) (decimal.Decimal, error) {
	if book == nil {
		return decimal.Zero, fmt.Errorf("no orderbook")
	}

	levels := book.Asks
	if side == SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return decimal.Zero, fmt.Errorf("no %s liquidity", side)
	}

	cum := decimal.Zero
	for i := len(levels) - 1; i >= 0; i-- {
		price, err := decimal.NewFromString(levels[i].Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse price %q: %w", levels[i].Price, err)
		}
		size, err := decimal.NewFromString(levels[i].Size)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse size %q: %w", levels[i].Size, err)
		}
		if side == SideBuy {
			cum = cum.Add(size.Mul(price))
		} else {
			cum = cum.Add(size)
		}
		if cum.GreaterThanOrEqual(amount) {
			return price, nil
		}
	}
	if orderType == OrderTypeFOK {
		return decimal.Zero, fmt.Errorf("insufficient %s depth for %s", side, amount)
	}
	// Not enough depth: cross the whole book at the deepest level.
	p, err := decimal.NewFromString(levels[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", levels[0].Price, err)
	}
	return p, nil
}
