// Package dataapi is a minimal client for the Polymarket data API: position
// snapshots and wallet activity for an account.
package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultURL = "https://data-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// ActivityTypeTrade tags on-book fills; every other activity type (splits,
// merges, redemptions, rewards) is ignored by the copy pipeline.
const ActivityTypeTrade = "TRADE"

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("data api url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("data api url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}, nil
}

type Position struct {
	ProxyWallet        string  `json:"proxyWallet"`
	Asset              string  `json:"asset"`
	ConditionID        string  `json:"conditionId"`
	Size               float64 `json:"size"`
	AvgPrice           float64 `json:"avgPrice"`
	InitialValue       float64 `json:"initialValue"`
	CurrentValue       float64 `json:"currentValue"`
	CashPnl            float64 `json:"cashPnl"`
	PercentPnl         float64 `json:"percentPnl"`
	RealizedPnl        float64 `json:"realizedPnl"`
	PercentRealizedPnl float64 `json:"percentRealizedPnl"`
	CurPrice           float64 `json:"curPrice"`
	Redeemable         bool    `json:"redeemable"`
	Mergeable          bool    `json:"mergeable"`
	Title              string  `json:"title"`
	Slug               string  `json:"slug"`
	Outcome            string  `json:"outcome"`
	OutcomeIndex       int     `json:"outcomeIndex"`
	EndDate            string  `json:"endDate"`
	NegativeRisk       bool    `json:"negativeRisk"`
}

// Activity is one row of an account's activity feed, newest first.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"` // seconds since epoch
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
}

// GetPositions returns the open positions of user, largest first.
func (c *Client) GetPositions(ctx context.Context, user string, limit int) ([]Position, error) {
	if c == nil {
		return nil, fmt.Errorf("data api client nil")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("positions user required")
	}

	q := url.Values{}
	q.Set("user", user)
	q.Set("sortBy", "CURRENT")
	q.Set("sortDirection", "DESC")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []Position
	if err := c.getJSON(ctx, "/positions", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetActivity returns the most recent activity rows of user, newest first.
// Callers filter for ActivityTypeTrade.
func (c *Client) GetActivity(ctx context.Context, user string, limit int) ([]Activity, error) {
	if c == nil {
		return nil, fmt.Errorf("data api client nil")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("activity user required")
	}

	q := url.Values{}
	q.Set("user", user)
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []Activity
	if err := c.getJSON(ctx, "/activity", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.host + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return fmt.Errorf("data api %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("data api decode %s: %w", path, err)
	}
	return nil
}

func readBodyLimit(r io.Reader, limit int64) string {
	if r == nil {
		return ""
	}
	if limit <= 0 {
		limit = 8 << 10
	}
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(b)
}
