package model

import (
	"errors"
	"testing"
)

func TestParseTopic(t *testing.T) {
	cases := []struct {
		in   string
		want Topic
	}{
		{"global", GlobalTopic},
		{"market:7", Topic{Kind: TopicMarket, ID: "7"}},
		{"user:0xABC", Topic{Kind: TopicUser, ID: "0xabc"}},
		{" market: 12 ", Topic{Kind: TopicMarket, ID: "12"}},
	}
	for _, tc := range cases {
		got, err := ParseTopic(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: %+v != %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseTopicInvalid(t *testing.T) {
	for _, in := range []string{"", "market", "market:", "pool:1", "global:1"} {
		if _, err := ParseTopic(in); !errors.Is(err, ErrInvalidTopic) {
			t.Fatalf("expected invalid topic for %q, got %v", in, err)
		}
	}
}

func TestTopicString(t *testing.T) {
	if GlobalTopic.String() != "global" {
		t.Fatalf("global: %s", GlobalTopic.String())
	}
	if UserTopic("0xAB").String() != "user:0xab" {
		t.Fatalf("user: %s", UserTopic("0xAB").String())
	}
}
