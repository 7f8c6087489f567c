package rtds

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dataapi"
)

const (
	activityTopic = "activity"
	tradesType    = "trades"
)

// TradesSubscription subscribes to one wallet's live fills. Filters is a JSON
// string per the RTDS envelope.
func TradesSubscription(wallet string) Subscription {
	return Subscription{
		Topic:   activityTopic,
		Type:    tradesType,
		Filters: fmt.Sprintf(`{"user":"%s"}`, strings.ToLower(strings.TrimSpace(wallet))),
	}
}

// DecodeTrade extracts a trade from an RTDS message. Returns false for any
// other topic/type. Stream payloads carry the same field names as the data
// API activity rows.
func DecodeTrade(m Message) (dataapi.Activity, bool, error) {
	if m.Topic != activityTopic || m.Type != tradesType {
		return dataapi.Activity{}, false, nil
	}
	var a dataapi.Activity
	if err := json.Unmarshal(m.Payload, &a); err != nil {
		return dataapi.Activity{}, false, fmt.Errorf("rtds trade decode: %w", err)
	}
	if a.TransactionHash == "" {
		return dataapi.Activity{}, false, fmt.Errorf("rtds trade missing transactionHash")
	}
	// Some stream payloads omit the type tag; normalize so downstream
	// filtering by TRADE still applies.
	if a.Type == "" {
		a.Type = dataapi.ActivityTypeTrade
	}
	return a, true, nil
}
