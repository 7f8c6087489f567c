package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

// The CLOB API enforces stricter precision than the 1e6 on-chain units:
// market orders allow 2 decimals on the maker amount and 4 on the taker.
const (
	makerMaxDecimals = 2
	takerMaxDecimals = 4
)

var microUnits = decimal.New(1, 6)

// OrderResponse is the venue's reply to a posted order. Success=true with a
// non-empty ErrorMsg means the order was accepted but killed (e.g. FOK with
// no fill), so both must be checked.
type OrderResponse struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	Status             string   `json:"status"`
	TakingAmount       string   `json:"takingAmount"`
	MakingAmount       string   `json:"makingAmount"`
	TransactionsHashes []string `json:"transactionsHashes"`
}

func (r *OrderResponse) Filled() bool {
	return r != nil && r.Success && r.ErrorMsg == ""
}

// marketOrderAmounts quantizes a market order to the precision rails above
// and returns on-chain 1e6 maker/taker units.
//
// BUY:  amount is collateral to spend; taker is the shares bought at price.
// SELL: amount is shares to sell; taker is the collateral received at price.
func marketOrderAmounts(side Side, amount, price decimal.Decimal) (maker, taker *big.Int, err error) {
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("amount must be > 0")
	}
	if price.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price must be > 0")
	}

	// Never round shares up on sells; that can exceed inventory.
	var makerDec decimal.Decimal
	if side == SideSell {
		makerDec = amount.RoundDown(makerMaxDecimals)
	} else {
		makerDec = amount.Round(makerMaxDecimals)
	}
	if makerDec.Sign() <= 0 {
		return nil, nil, fmt.Errorf("amount %s rounds to 0 at %d decimals", amount, makerMaxDecimals)
	}

	var takerDec decimal.Decimal
	switch side {
	case SideBuy:
		takerDec = makerDec.DivRound(price, takerMaxDecimals+2).RoundDown(takerMaxDecimals)
	case SideSell:
		takerDec = makerDec.Mul(price).RoundDown(takerMaxDecimals)
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
	if takerDec.Sign() <= 0 {
		return nil, nil, fmt.Errorf("taker amount rounds to 0")
	}

	return makerDec.Mul(microUnits).BigInt(), takerDec.Mul(microUnits).BigInt(), nil
}

// PlaceMarketOrder builds, signs and posts a market order. For buys amount is
// USDC to spend; for sells it is shares to liquidate.
func (c *Client) PlaceMarketOrder(ctx context.Context, tokenID string, side Side, amount decimal.Decimal, orderType OrderType) (*OrderResponse, error) {
	if !c.HasApiCreds() {
		return nil, fmt.Errorf("api creds not set")
	}

	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("orderbook %s: %w", tokenID, err)
	}
	price, err := marketPrice(book, side, amount, orderType)
	if err != nil {
		return nil, err
	}

	meta, err := c.MarketMeta(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("market meta %s: %w", tokenID, err)
	}

	maker, taker, err := marketOrderAmounts(side, amount, price)
	if err != nil {
		return nil, err
	}

	sideEnum := ordermodel.BUY
	if side == SideSell {
		sideEnum = ordermodel.SELL
	}
	contract := ordermodel.CTFExchange
	if meta.NegRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    strconv.Itoa(meta.FeeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}

	builder := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(c.chainID), func() int64 { return rand.Int63() })
	signed, err := builder.BuildSignedOrder(c.privateKey, od, contract)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	return c.postOrder(ctx, signed, orderType)
}

type signedOrderPayload struct {
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

func (c *Client) postOrder(ctx context.Context, order *ordermodel.SignedOrder, orderType OrderType) (*OrderResponse, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	side := SideBuy
	if order.Side != nil && order.Side.Int64() == int64(ordermodel.SELL) {
		side = SideSell
	}

	payload := signedOrderPayload{
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          side,
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	headers, err := c.l2Headers(timeNowUnix(), http.MethodPost, "/order", body)
	if err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/order", nil, headers, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
