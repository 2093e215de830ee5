// Package equitycurve implements the drawdown-bracket / MA-trend-filter /
// gradual-recovery exposure controller. Grounded on the original
// EquityCurveMonitor's calculate_exposure / _apply_recovery_logic split.
package equitycurve

import (
	"fmt"
)

// RecoveryMode selects how the exposure multiplier is allowed to increase.
type RecoveryMode int

const (
	RecoveryGradual RecoveryMode = iota
	RecoveryImmediate
)

// Config mirrors the original EquityCurveConfig.
type Config struct {
	Enabled                bool
	DrawdownThresholds     []float64 // ascending percentages, e.g. [5,10,15,20]
	ExposureLevels         []float64 // descending, same length
	MAShortWindow          int
	MALongWindow           int
	MAExposureOn           float64
	MAExposureOff          float64
	RecoveryMode           RecoveryMode
	RecoveryStep           float64
	RecoveryDelayPeriods   int
	MinExposure            float64
	MaxExposure            float64
}

// DefaultConfig mirrors the original's defaults.
func DefaultConfig() Config {
	return Config{
		DrawdownThresholds:   []float64{5, 10, 15, 20},
		ExposureLevels:       []float64{0.8, 0.6, 0.4, 0.2},
		MAShortWindow:        5,
		MALongWindow:         20,
		MAExposureOn:         1.0,
		MAExposureOff:        0.5,
		RecoveryMode:         RecoveryGradual,
		RecoveryStep:         0.1,
		RecoveryDelayPeriods: 1,
		MinExposure:          0,
		MaxExposure:          1,
	}
}

// Controller tracks recovery state across rebalance periods.
type Controller struct {
	cfg            Config
	isRecovering   bool
	recoveryTarget float64
	recoveryCount  int
	lastExposure   float64
}

// New constructs a Controller. lastExposure starts at 1.0, matching the
// original's default "fully invested until proven otherwise" posture.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, lastExposure: 1.0}
}

// Scale computes the exposure multiplier from navHistory (entries strictly
// before D, oldest first) and returns it alongside a human-readable reason.
// It does not itself multiply weights; callers apply the returned factor.
func (c *Controller) Scale(navHistory []float64) (float64, string) {
	if !c.cfg.Enabled {
		return 1.0, "equity curve control disabled"
	}
	if len(navHistory) == 0 {
		return 1.0, "insufficient history"
	}
	if len(navHistory) < c.cfg.MALongWindow {
		return 1.0, "insufficient history"
	}

	current := navHistory[len(navHistory)-1]
	peak := navHistory[0]
	for _, v := range navHistory {
		if v > peak {
			peak = v
		}
	}
	drawdownPct := 0.0
	if peak != 0 {
		drawdownPct = (1 - current/peak) * 100
	}

	drawdownExposure := c.drawdownExposure(drawdownPct)
	maExposure := c.maExposure(navHistory)

	combined := drawdownExposure
	if maExposure < combined {
		combined = maExposure
	}

	final := c.applyRecovery(combined)
	if final < c.cfg.MinExposure {
		final = c.cfg.MinExposure
	}
	if final > c.cfg.MaxExposure {
		final = c.cfg.MaxExposure
	}
	c.lastExposure = final

	reason := fmt.Sprintf("drawdown=%.2f%% drawdown_factor=%.2f ma_factor=%.2f combined=%.2f final=%.2f",
		drawdownPct, drawdownExposure, maExposure, combined, final)
	return final, reason
}

func (c *Controller) drawdownExposure(drawdownPct float64) float64 {
	abs := drawdownPct
	if abs < 0 {
		abs = -abs
	}
	for i, threshold := range c.cfg.DrawdownThresholds {
		if abs < threshold {
			if i == 0 {
				return 1.0
			}
			return c.cfg.ExposureLevels[i-1]
		}
	}
	if len(c.cfg.ExposureLevels) == 0 {
		return 1.0
	}
	return c.cfg.ExposureLevels[len(c.cfg.ExposureLevels)-1]
}

func (c *Controller) maExposure(navHistory []float64) float64 {
	if len(navHistory) < c.cfg.MALongWindow {
		return c.cfg.MAExposureOn
	}
	shortMean := mean(navHistory[len(navHistory)-c.cfg.MAShortWindow:])
	longMean := mean(navHistory[len(navHistory)-c.cfg.MALongWindow:])
	if shortMean > longMean {
		return c.cfg.MAExposureOn
	}
	return c.cfg.MAExposureOff
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (c *Controller) applyRecovery(target float64) float64 {
	if c.cfg.RecoveryMode == RecoveryImmediate {
		c.isRecovering = false
		c.recoveryCount = 0
		return target
	}

	switch {
	case target < c.lastExposure:
		c.isRecovering = false
		c.recoveryCount = 0
		return target
	case target > c.lastExposure:
		if !c.isRecovering {
			c.isRecovering = true
			c.recoveryTarget = target
			c.recoveryCount = 0
			return c.lastExposure
		}
		c.recoveryCount++
		if c.recoveryCount < c.cfg.RecoveryDelayPeriods {
			return c.lastExposure
		}
		next := c.lastExposure + c.cfg.RecoveryStep
		if next >= target {
			c.isRecovering = false
			c.recoveryCount = 0
			return target
		}
		return next
	default:
		return target
	}
}

// Reset clears recovery state, matching the original's reset().
func (c *Controller) Reset() {
	c.isRecovering = false
	c.recoveryTarget = 1.0
	c.recoveryCount = 0
	c.lastExposure = 1.0
}

// LastExposure returns the most recently applied exposure multiplier.
func (c *Controller) LastExposure() float64 {
	return c.lastExposure
}
