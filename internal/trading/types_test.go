package trading

import (
	"math"
	"testing"
	"time"
)

func TestAccountSnapshotObserve(t *testing.T) {
	var acct AccountSnapshot
	now := time.Now()

	acct.Observe(1000, 900, now)
	acct.Observe(1100, 950, now)
	acct.Observe(880, 700, now)

	if acct.InitialBalance != 1000 {
		t.Errorf("InitialBalance = %v, want 1000", acct.InitialBalance)
	}
	if acct.HighWaterMark != 1100 {
		t.Errorf("HighWaterMark = %v, want 1100 (must not decrease)", acct.HighWaterMark)
	}
	if math.Abs(acct.Drawdown-0.2) > 1e-9 {
		t.Errorf("Drawdown = %v, want 0.2", acct.Drawdown)
	}
	if math.Abs(acct.RealizedPnL-(-120)) > 1e-9 {
		t.Errorf("RealizedPnL = %v, want -120", acct.RealizedPnL)
	}
}

func TestDirectionSides(t *testing.T) {
	tests := []struct {
		dir      Direction
		entry    Side
		exit     Side
		sizeSign float64
	}{
		{Long, SideBuy, SideSell, 1},
		{Short, SideSell, SideBuy, -1},
	}
	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			if got := tt.dir.EntrySide(); got != tt.entry {
				t.Errorf("EntrySide = %v, want %v", got, tt.entry)
			}
			if got := tt.dir.ExitSide(); got != tt.exit {
				t.Errorf("ExitSide = %v, want %v", got, tt.exit)
			}
			if got := DirectionOf(tt.sizeSign); got != tt.dir {
				t.Errorf("DirectionOf(%v) = %v, want %v", tt.sizeSign, got, tt.dir)
			}
		})
	}
}

func TestReasonIsExit(t *testing.T) {
	if ReasonPullback.IsExit() || ReasonDCA.IsExit() {
		t.Error("entries and augmentations must not be exits")
	}
	if !ReasonTrailingStop.IsExit() || !ReasonZombie.IsExit() {
		t.Error("trailing stop and zombie must be exits")
	}
}
