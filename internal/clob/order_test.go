package clob

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

// Books from the CLOB API are sorted with the best level last.
func testBook() *Book {
	return &Book{
		Market:  "0xc0ffee",
		AssetID: "7131",
		Asks: []Level{
			{Price: "0.60", Size: "100"},
			{Price: "0.55", Size: "50"},
			{Price: "0.52", Size: "10"},
		},
		Bids: []Level{
			{Price: "0.40", Size: "30"},
			{Price: "0.48", Size: "20"},
			{Price: "0.50", Size: "5"},
		},
	}
}

func TestMarketPrice_BuyWalksAskDepth(t *testing.T) {
	// 8 USDC: best ask (0.52 x 10) only covers 5.2, the next level fills it.
	p, err := marketPrice(testBook(), SideBuy, mustDec(t, "8"), OrderTypeFOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(mustDec(t, "0.55")) {
		t.Fatalf("price: got %s want 0.55", p)
	}
}

func TestMarketPrice_SellWalksBidDepth(t *testing.T) {
	// 10 shares: best bid (0.50 x 5) covers half, the 0.48 level the rest.
	p, err := marketPrice(testBook(), SideSell, mustDec(t, "10"), OrderTypeFOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(mustDec(t, "0.48")) {
		t.Fatalf("price: got %s want 0.48", p)
	}
}

func TestMarketPrice_FOKRejectsThinBook(t *testing.T) {
	// Total ask depth is 5.2 + 27.5 + 60 = 92.7 USDC.
	if _, err := marketPrice(testBook(), SideBuy, mustDec(t, "100"), OrderTypeFOK); err == nil {
		t.Fatalf("expected insufficient depth error")
	}
}

func TestMarketPrice_FAKCrossesWholeBook(t *testing.T) {
	p, err := marketPrice(testBook(), SideBuy, mustDec(t, "100"), OrderTypeFAK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(mustDec(t, "0.60")) {
		t.Fatalf("price: got %s want 0.60 (deepest level)", p)
	}
}

func TestMarketPrice_EmptySide(t *testing.T) {
	book := testBook()
	book.Bids = nil
	if _, err := marketPrice(book, SideSell, mustDec(t, "1"), OrderTypeFOK); err == nil {
		t.Fatalf("expected empty book error")
	}
}

func TestMarketOrderAmounts_Buy(t *testing.T) {
	maker, taker, err := marketOrderAmounts(SideBuy, mustDec(t, "10"), mustDec(t, "0.55"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maker.String() != "10000000" {
		t.Fatalf("maker: got %s want 10000000", maker)
	}
	// 10 / 0.55 = 18.1818..., truncated to 4 decimals.
	if taker.String() != "18181800" {
		t.Fatalf("taker: got %s want 18181800", taker)
	}
}

func TestMarketOrderAmounts_SellTruncatesShares(t *testing.T) {
	maker, taker, err := marketOrderAmounts(SideSell, mustDec(t, "20.5555"), mustDec(t, "0.48"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Shares round down to 20.55, never up past inventory.
	if maker.String() != "20550000" {
		t.Fatalf("maker: got %s want 20550000", maker)
	}
	// 20.55 * 0.48 = 9.864 USDC.
	if taker.String() != "9864000" {
		t.Fatalf("taker: got %s want 9864000", taker)
	}
}

func TestMarketOrderAmounts_BuyRoundsCollateralToCents(t *testing.T) {
	maker, _, err := marketOrderAmounts(SideBuy, mustDec(t, "10.005"), mustDec(t, "0.50"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maker.String() != "10010000" {
		t.Fatalf("maker: got %s want 10010000", maker)
	}
}

func TestMarketOrderAmounts_Rejects(t *testing.T) {
	if _, _, err := marketOrderAmounts(SideBuy, decimal.Zero, mustDec(t, "0.5")); err == nil {
		t.Fatalf("expected error on zero amount")
	}
	if _, _, err := marketOrderAmounts(SideSell, mustDec(t, "5"), decimal.Zero); err == nil {
		t.Fatalf("expected error on zero price")
	}
	// 0.004 shares truncate to zero at 2 decimals.
	if _, _, err := marketOrderAmounts(SideSell, mustDec(t, "0.004"), mustDec(t, "0.5")); err == nil {
		t.Fatalf("expected error on dust sell")
	}
}
