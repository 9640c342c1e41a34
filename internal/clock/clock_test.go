package clock

import (
	"testing"
	"time"

	"examroom/pkg/interfaces"
)

var (
	_ interfaces.Clock = (*System)(nil)
	_ interfaces.Clock = (*Fake)(nil)
)

func TestFakeClockIsFrozen(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	if !clk.Now().Equal(start) {
		t.Errorf("Expected %v, got %v", start, clk.Now())
	}
	if !clk.Now().Equal(clk.Now()) {
		t.Error("Expected repeated reads to return the same instant")
	}
}

func TestFakeClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := NewFake(start)

	clk.Advance(45 * time.Minute)
	if want := start.Add(45 * time.Minute); !clk.Now().Equal(want) {
		t.Errorf("Expected %v after advance, got %v", want, clk.Now())
	}

	pinned := time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)
	clk.Set(pinned)
	if !clk.Now().Equal(pinned) {
		t.Errorf("Expected %v after set, got %v", pinned, clk.Now())
	}
}

func TestSystemClockTracksWallTime(t *testing.T) {
	before := time.Now()
	got := NewSystem().Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Expected system time between %v and %v, got %v", before, after, got)
	}
}
