package backend

import (
	"errors"
	"testing"

	mauveerrors "github.com/mauvedb/mauved/internal/errors"
)

func TestParseLabelLowercases(t *testing.T) {
	label, err := ParseLabel("Env=Prod")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if label.Name != "env" || label.Value != "prod" {
		t.Fatalf("expected lowercased pair, got %+v", label)
	}
	if label.String() != "env=prod" {
		t.Fatalf("expected env=prod, got %q", label.String())
	}
}

func TestParseLabelEmptyValueAllowed(t *testing.T) {
	label, err := ParseLabel("flagged=")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if label.Name != "flagged" || label.Value != "" {
		t.Fatalf("expected empty value, got %+v", label)
	}
}

func TestParseLabelRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "noequals", "=value"} {
		if _, err := ParseLabel(raw); !errors.Is(err, mauveerrors.ErrInvalidLabel) {
			t.Fatalf("expected ErrInvalidLabel for %q, got %v", raw, err)
		}
	}
}

func TestParseLabelsLastPairWins(t *testing.T) {
	labels, err := ParseLabels([]string{"env=dev", "team=core", "ENV=prod"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if labels["env"] != "prod" {
		t.Fatalf("expected later pair to win, got %v", labels)
	}
	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %v", labels)
	}
}

func TestFormatAndSplitLabels(t *testing.T) {
	labels := map[string]string{"team": "core", "env": "prod", "tier": "1"}

	encoded := FormatLabels(labels)
	if encoded != "env=prod,team=core,tier=1" {
		t.Fatalf("expected sorted encoding, got %q", encoded)
	}

	decoded := SplitLabels(encoded)
	if len(decoded) != len(labels) {
		t.Fatalf("expected %d labels back, got %v", len(labels), decoded)
	}
	for name, value := range labels {
		if decoded[name] != value {
			t.Fatalf("expected %s=%s back, got %v", name, value, decoded)
		}
	}

	if FormatLabels(nil) != "" {
		t.Fatal("expected empty encoding for no labels")
	}
	if SplitLabels("") != nil {
		t.Fatal("expected nil map for empty encoding")
	}
}
