package models

import (
	"encoding/json"
	"testing"
)

func TestPlanPrice(t *testing.T) {
	tests := []struct {
		minor int
		want  string
	}{
		{minor: 900, want: "9.00"},
		{minor: 2500, want: "25.00"},
		{minor: 7900, want: "79.00"},
		{minor: 5, want: "0.05"},
	}
	for _, tc := range tests {
		if got := (Plan{PriceMinorUnits: tc.minor}).Price(); got != tc.want {
			t.Fatalf("Price(%d) = %q, want %q", tc.minor, got, tc.want)
		}
	}
}

func TestPlanMarshalIncludesPrice(t *testing.T) {
	data, err := json.Marshal(Plan{ID: 1, Title: "Starter", PriceMinorUnits: 900, Credits: 100})
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if payload["price"] != "9.00" {
		t.Fatalf("price = %#v, want 9.00", payload["price"])
	}
	if payload["credits"] != float64(100) {
		t.Fatalf("credits = %#v, want 100", payload["credits"])
	}
}

func TestWorkflowBySlug(t *testing.T) {
	wf, ok := WorkflowBySlug("dual-selfie")
	if !ok || wf.Shape != InputDualImage || wf.Cost != 15 {
		t.Fatalf("unexpected dual-selfie entry: %#v ok=%v", wf, ok)
	}
	if _, ok := WorkflowBySlug("missing"); ok {
		t.Fatal("expected unknown slug to miss")
	}
}
