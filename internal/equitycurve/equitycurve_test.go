package equitycurve

import "testing"

// NAV history shows peak 1.10 then a close at 0.935 (15% drawdown).
// Brackets [5,10,15,20] -> [0.8,0.6,0.4,0.2]. Exposure factor = 0.4.
func TestDrawdownBracketSelectsMatchingExposureLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MALongWindow = 1 // isolate the drawdown bracket from the MA filter
	cfg.MAShortWindow = 1
	c := New(cfg)

	nav := make([]float64, 0, 25)
	nav = append(nav, 1.10)
	for len(nav) < 24 {
		nav = append(nav, 1.10)
	}
	nav = append(nav, 0.935)

	exposure, _ := c.Scale(nav)
	if exposure != 0.4 {
		t.Fatalf("Scale() exposure = %v, want 0.4", exposure)
	}
}

func TestInsufficientHistoryReturnsFullExposure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	c := New(cfg)
	exposure, reason := c.Scale([]float64{1.0, 0.99})
	if exposure != 1.0 {
		t.Fatalf("Scale() exposure = %v, want 1.0", exposure)
	}
	if reason != "insufficient history" {
		t.Fatalf("Scale() reason = %q, want %q", reason, "insufficient history")
	}
}

func TestGradualRecoveryWaitsThenSteps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MALongWindow = 1
	cfg.MAShortWindow = 1
	cfg.RecoveryDelayPeriods = 1
	cfg.RecoveryStep = 0.1
	c := New(cfg)

	// Drop to a 15% drawdown bracket (exposure 0.4).
	down := append(make([]float64, 0), 1.10)
	for len(down) < 21 {
		down = append(down, 1.10)
	}
	down = append(down, 0.935)
	exposure, _ := c.Scale(down)
	if exposure != 0.4 {
		t.Fatalf("after drop, exposure = %v, want 0.4", exposure)
	}

	// Recovery: NAV climbs back near the peak; gradual mode should not
	// jump straight to 1.0.
	recovered := append(down, 1.05)
	exposure, _ = c.Scale(recovered)
	if exposure != 0.4 {
		t.Fatalf("first recovery tick should hold at last exposure, got %v", exposure)
	}
	exposure, _ = c.Scale(recovered)
	if exposure <= 0.4 {
		t.Fatalf("second recovery tick should step up from 0.4, got %v", exposure)
	}
}
