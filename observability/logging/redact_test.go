package logging

import (
	"sort"
	"testing"
)

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("ledger_auth_token", "super-secret")
	if got := attr.Value.String(); got != RedactedValue {
		t.Fatalf("sensitive value leaked: %q", got)
	}
	if attr.Key != "ledger_auth_token" {
		t.Fatalf("key rewritten: %q", attr.Key)
	}
}

func TestMaskFieldPassesAllowlistedKeys(t *testing.T) {
	attr := MaskField("symbol", "WETH")
	if got := attr.Value.String(); got != "WETH" {
		t.Fatalf("allowlisted value masked: %q", got)
	}
	attr = MaskField("SYMBOL", "WETH")
	if got := attr.Value.String(); got != "WETH" {
		t.Fatalf("allowlist lookup is case sensitive: %q", got)
	}
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	attr := MaskField("ledger_auth_token", "")
	if got := attr.Value.String(); got != "" {
		t.Fatalf("empty value rewritten: %q", got)
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("token"); got != RedactedValue {
		t.Fatalf("mask = %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("blank value rewritten: %q", got)
	}
}

func TestRedactionAllowlist(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist not sorted: %v", keys)
	}
	for _, key := range keys {
		if !IsAllowlisted(key) {
			t.Fatalf("listed key %q not allowlisted", key)
		}
	}
	if IsAllowlisted("authorization") {
		t.Fatal("authorization must never be allowlisted")
	}
}
