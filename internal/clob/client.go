// Package clob places orders on the Polymarket CLOB. It carries just enough
// of the exchange surface for a copy-trading mirror: API-key auth, order book
// reads and signed market orders.
package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const DefaultURL = "https://clob.polymarket.com"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeFAK OrderType = "FAK"
)

type ApiKeyCreds struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type apiKeyRaw struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// MarketMeta caches the per-token exchange parameters needed to build an
// order. Fetched lazily, immutable for the lifetime of a market.
type MarketMeta struct {
	TickSize string
	FeeBps   int
	NegRisk  bool
}

type Client struct {
	host        string
	httpClient  *http.Client
	chainID     int64
	privateKey  *ecdsa.PrivateKey
	signer      common.Address
	funder      common.Address
	signatureTy int // 0=EOA, 1=POLY_PROXY, 2=POLY_GNOSIS_SAFE

	mu    sync.RWMutex
	creds *ApiKeyCreds
	meta  map[string]MarketMeta
}

func NewClient(host string, chainID int64, privateKey *ecdsa.PrivateKey, funder common.Address, signatureType int) (*Client, error) {
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http") {
		return nil, fmt.Errorf("clob host must be http(s), got %q", host)
	}
	if privateKey == nil {
		return nil, fmt.Errorf("private key required")
	}
	signer := crypto.PubkeyToAddress(privateKey.PublicKey)
	if (funder == common.Address{}) {
		funder = signer
	}

	return &Client{
		host:        host,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		chainID:     chainID,
		privateKey:  privateKey,
		signer:      signer,
		funder:      funder,
		signatureTy: signatureType,
		meta:        make(map[string]MarketMeta),
	}, nil
}

func (c *Client) SignerAddress() common.Address { return c.signer }
func (c *Client) FunderAddress() common.Address { return c.funder }

func (c *Client) SetApiCreds(creds ApiKeyCreds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = &creds
}

func (c *Client) HasApiCreds() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds != nil && c.creds.Key != "" && c.creds.Secret != "" && c.creds.Passphrase != ""
}

// CreateOrDeriveApiKey derives first to avoid NONCE_ALREADY_USED failures on
// create.
func (c *Client) CreateOrDeriveApiKey(ctx context.Context, nonce uint64) (ApiKeyCreds, error) {
	if creds, err := c.apiKeyRequest(ctx, http.MethodGet, "/auth/derive-api-key", nonce); err == nil && creds.Key != "" {
		return creds, nil
	}
	return c.apiKeyRequest(ctx, http.MethodPost, "/auth/api-key", nonce)
}

func (c *Client) apiKeyRequest(ctx context.Context, method, path string, nonce uint64) (ApiKeyCreds, error) {
	ts := time.Now().Unix()
	headers, err := c.l1Headers(ts, nonce)
	if err != nil {
		return ApiKeyCreds{}, err
	}
	var resp apiKeyRaw
	if err := c.doJSON(ctx, method, path, nil, headers, nil, &resp); err != nil {
		return ApiKeyCreds{}, err
	}
	return ApiKeyCreds{Key: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}, nil
}

// MarketMeta returns tick size, taker fee and neg-risk flag for tokenID,
// fetching and caching on first use.
func (c *Client) MarketMeta(ctx context.Context, tokenID string) (MarketMeta, error) {
	c.mu.RLock()
	if m, ok := c.meta[tokenID]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	params := url.Values{"token_id": []string{tokenID}}

	var tick struct {
		MinimumTickSize json.Number `json:"minimum_tick_size"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/tick-size", params, nil, nil, &tick); err != nil {
		return MarketMeta{}, err
	}
	var fee struct {
		BaseFee int `json:"base_fee"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/fee-rate", params, nil, nil, &fee); err != nil {
		return MarketMeta{}, err
	}
	var neg struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/neg-risk", params, nil, nil, &neg); err != nil {
		return MarketMeta{}, err
	}

	m := MarketMeta{TickSize: tick.MinimumTickSize.String(), FeeBps: fee.BaseFee, NegRisk: neg.NegRisk}
	if m.TickSize == "" {
		return MarketMeta{}, fmt.Errorf("tick size missing for token %s", tokenID)
	}

	c.mu.Lock()
	c.meta[tokenID] = m
	c.mu.Unlock()
	return m, nil
}

func timeNowUnix() int64 { return time.Now().Unix() }

func (c *Client) l1Headers(timestamp int64, nonce uint64) (http.Header, error) {
	sig, err := buildClobEip712Signature(c.privateKey, c.signer, c.chainID, timestamp, nonce)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("POLY_ADDRESS", c.signer.Hex())
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	h.Set("POLY_NONCE", strconv.FormatUint(nonce, 10))
	return h, nil
}

func (c *Client) l2Headers(timestamp int64, method, requestPath string, body []byte) (http.Header, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if creds == nil {
		return nil, fmt.Errorf("api creds not set")
	}
	sig, err := buildPolyHmacSignature(creds.Secret, timestamp, method, requestPath, body)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("POLY_ADDRESS", c.signer.Hex())
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	h.Set("POLY_API_KEY", creds.Key)
	h.Set("POLY_PASSPHRASE", creds.Passphrase)
	return h, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, headers http.Header, body []byte, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clob %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	return nil
}
