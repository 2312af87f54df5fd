package system

import (
	"testing"
	"time"
)

func TestClockNowDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestClockNowUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("IST", 5*3600+1800)
	clk := New(loc)
	if got := clk.Now().Location(); got != loc {
		t.Fatalf("expected %v, got %v", loc, got)
	}
	if clk.Location() != loc {
		t.Fatalf("expected Location() to return %v", loc)
	}
}

func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}
