package model

import (
	"encoding/json"
	"testing"
)

func TestShareTradeKindFollowsSide(t *testing.T) {
	buy := ShareTrade{MarketID: "7", Side: SideBuy}
	sell := ShareTrade{MarketID: "7", Side: SideSell}

	if buy.Kind() != KindSharesBought {
		t.Fatalf("buy kind: %s", buy.Kind())
	}
	if sell.Kind() != KindSharesSold {
		t.Fatalf("sell kind: %s", sell.Kind())
	}
	if buy.MarketKey() != "7" {
		t.Fatalf("market key: %s", buy.MarketKey())
	}
}

func TestLiquidityChangeKindFollowsDirection(t *testing.T) {
	if (LiquidityChange{Direction: LiquidityAdd}).Kind() != KindLiquidityAdded {
		t.Fatalf("add kind mismatch")
	}
	if (LiquidityChange{Direction: LiquidityRemove}).Kind() != KindLiquidityRemoved {
		t.Fatalf("remove kind mismatch")
	}
}

func TestShareTradeJSONStringAmounts(t *testing.T) {
	payload := ShareTrade{
		MarketID: "7",
		Trader:   "0x2222222222222222222222222222222222222222",
		Side:     SideBuy,
		Outcome:  OutcomeYes,
		Shares:   "12345678901234567890",
		Amount:   "5000000000000000000",
		YesPrice: "600000000000000000",
		NoPrice:  "400000000000000000",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"shares", "amount", "yes_price", "no_price"} {
		if _, ok := decoded[key].(string); !ok {
			t.Fatalf("%s should be string", key)
		}
	}
}
