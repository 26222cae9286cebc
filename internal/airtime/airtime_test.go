package airtime

import (
	"testing"
	"time"
)

func TestCalculateAirtime(t *testing.T) {
	got := CalculateAirtime(10, 7, 125)
	// symbol = 2^7/125 = 1.024 ms; total = 8*1.024 + (14.25*8)*1.024
	want := 8*1.024 + (10+4.25)*8*1.024
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CalculateAirtime = %v, want %v", got, want)
	}
}

func TestCanTransmitEnforcementDisabled(t *testing.T) {
	a := New(Config{MaxAirtimePerMinute: 10, EnforcementEnabled: false})
	ok, wait := a.CanTransmit(1_000_000)
	if !ok || wait != 0 {
		t.Fatalf("expected unconditional admission, got ok=%v wait=%v", ok, wait)
	}
}

func TestCanTransmitDutyCycleScenario(t *testing.T) {
	// Scenario: max=1000ms, 950ms already used, next frame=100ms -> denied.
	now := time.Now()
	clock := now
	a := New(Config{
		MaxAirtimePerMinute: 1000,
		EnforcementEnabled:  true,
		Now:                 func() time.Time { return clock },
	})

	clock = now.Add(-10 * time.Second)
	a.RecordTx(950)
	clock = now

	ok, wait := a.CanTransmit(100)
	if ok {
		t.Fatal("expected duty-cycle denial")
	}
	wantWait := 50 * time.Second
	if wait < wantWait-time.Second || wait > wantWait+time.Second {
		t.Errorf("wait = %v, want ~%v", wait, wantWait)
	}
}

func TestCanTransmitEvictsOldEntries(t *testing.T) {
	now := time.Now()
	clock := now
	a := New(Config{
		MaxAirtimePerMinute: 100,
		EnforcementEnabled:  true,
		Now:                 func() time.Time { return clock },
	})

	clock = now.Add(-61 * time.Second)
	a.RecordTx(90)
	clock = now

	ok, _ := a.CanTransmit(50)
	if !ok {
		t.Fatal("expected admission once the prior entry has aged out of the window")
	}
}

func TestGetStats(t *testing.T) {
	now := time.Now()
	a := New(Config{MaxAirtimePerMinute: 200, EnforcementEnabled: true, Now: func() time.Time { return now }})
	a.RecordTx(50)
	stats := a.GetStats()
	if stats.UsedMS != 50 {
		t.Errorf("UsedMS = %v, want 50", stats.UsedMS)
	}
	if stats.UtilizationPct != 25 {
		t.Errorf("UtilizationPct = %v, want 25", stats.UtilizationPct)
	}
}
