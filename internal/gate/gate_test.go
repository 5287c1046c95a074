package gate

import (
	"math"
	"testing"
)

func TestGateReweightAboveThreshold(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(1.0)

	if decision.Action != ActionReweight {
		t.Fatalf("expected reweight, got %s: %s", decision.Action, decision.Reason)
	}
	if !decision.Reweight() {
		t.Fatal("Reweight() should be true")
	}
}

func TestGateReweightAtThreshold(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(0.5)

	if decision.Action != ActionReweight {
		t.Fatalf("expected reweight at threshold, got %s", decision.Action)
	}
}

func TestGateResimulateBelowThreshold(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(0.1)

	if decision.Action != ActionResimulate {
		t.Fatalf("expected resimulate, got %s", decision.Action)
	}
	if decision.MinESS != 0.1 {
		t.Errorf("expected MinESS 0.1 recorded, got %v", decision.MinESS)
	}
	if decision.Threshold != 0.5 {
		t.Errorf("expected threshold 0.5 recorded, got %v", decision.Threshold)
	}
}

func TestGateNoSystemsSentinel(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(-1)

	if decision.Action != ActionResimulate {
		t.Fatalf("expected resimulate, got %s", decision.Action)
	}
	if decision.Reason != "no systems" {
		t.Errorf("expected reason 'no systems', got %q", decision.Reason)
	}
}

func TestGateNaN(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(math.NaN())

	if decision.Reweight() {
		t.Fatal("NaN ESS must not allow reweighting")
	}
}

func TestGateCustomThreshold(t *testing.T) {
	g := NewGate(GateConfig{MinESS: 0.05})

	if d := g.Evaluate(0.1); !d.Reweight() {
		t.Fatalf("expected reweight with lowered threshold, got %s", d.Action)
	}
	if d := g.Evaluate(0.01); d.Reweight() {
		t.Fatalf("expected resimulate below lowered threshold, got %s", d.Action)
	}
}
