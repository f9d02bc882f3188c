package model

import "testing"

func TestRawEventIDIsCaseInsensitive(t *testing.T) {
	a := RawEvent{TxHash: "0xABCDEF", LogIndex: 3}
	b := RawEvent{TxHash: "0xabcdef", LogIndex: 3}

	if a.ID() != b.ID() {
		t.Fatalf("ids differ: %s != %s", a.ID(), b.ID())
	}
	if a.ID() != "0xabcdef:3" {
		t.Fatalf("unexpected id: %s", a.ID())
	}
}

func TestEventMetaBefore(t *testing.T) {
	first := EventMeta{BlockNumber: 10, LogIndex: 5}
	second := EventMeta{BlockNumber: 10, LogIndex: 6}
	third := EventMeta{BlockNumber: 11, LogIndex: 0}

	if !first.Before(second) || !second.Before(third) || !first.Before(third) {
		t.Fatalf("ledger order mismatch")
	}
	if third.Before(first) || first.Before(first) {
		t.Fatalf("reverse order should be false")
	}
}

func TestParseEventKind(t *testing.T) {
	kind, ok := ParseEventKind(" sharesbought ")
	if !ok || kind != KindSharesBought {
		t.Fatalf("parse mismatch: %q %v", kind, ok)
	}
	if _, ok := ParseEventKind("Swap"); ok {
		t.Fatalf("expected unknown event")
	}
}
