package domain

import (
	"errors"
	"math"
	"testing"
)

func TestCommissionFor(t *testing.T) {
	cases := []struct {
		name    string
		amount  int64
		rateBps int64
		want    int64
	}{
		{name: "ten percent of 1000", amount: 1000, rateBps: 1000, want: 100},
		{name: "ten percent of 2000", amount: 2000, rateBps: 1000, want: 200},
		{name: "floors fractional result", amount: 1050, rateBps: 333, want: 34},
		{name: "zero rate", amount: 5000, rateBps: 0, want: 0},
		{name: "zero amount", amount: 0, rateBps: 500, want: 0},
		{name: "small amount rounds to zero", amount: 19, rateBps: 500, want: 0},
		{name: "large amount stays exact", amount: math.MaxInt64 / 2, rateBps: 1, want: (math.MaxInt64 / 2) / 10000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CommissionFor(tc.amount, tc.rateBps)
			if got != tc.want {
				t.Fatalf("CommissionFor(%d, %d) = %d, want %d", tc.amount, tc.rateBps, got, tc.want)
			}
		})
	}
}

func TestProRataShare(t *testing.T) {
	cases := []struct {
		name          string
		snapshot      int64
		totalReward   int64
		snapshotTotal int64
		want          int64
	}{
		{name: "one third", snapshot: 1000, totalReward: 300, snapshotTotal: 3000, want: 100},
		{name: "two thirds", snapshot: 2000, totalReward: 300, snapshotTotal: 3000, want: 200},
		{name: "floors fractional share", snapshot: 1, totalReward: 100, snapshotTotal: 3, want: 33},
		{name: "zero snapshot", snapshot: 0, totalReward: 300, snapshotTotal: 3000, want: 0},
		{name: "empty period", snapshot: 1000, totalReward: 300, snapshotTotal: 0, want: 0},
		{name: "huge values do not overflow", snapshot: math.MaxInt64 / 2, totalReward: math.MaxInt64 / 2, snapshotTotal: math.MaxInt64, want: math.MaxInt64 / 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProRataShare(tc.snapshot, tc.totalReward, tc.snapshotTotal)
			if got != tc.want {
				t.Fatalf("ProRataShare(%d, %d, %d) = %d, want %d", tc.snapshot, tc.totalReward, tc.snapshotTotal, got, tc.want)
			}
		})
	}
}

func TestConvertAlt(t *testing.T) {
	// 0.1 of the alt asset at rate 3000 settles as 300.
	got, err := ConvertAlt(AltAssetScale/10, 3000)
	if err != nil {
		t.Fatalf("ConvertAlt returned error: %v", err)
	}
	if got != 300 {
		t.Fatalf("ConvertAlt(0.1, 3000) = %d, want 300", got)
	}
}

func TestConvertAltRejectsNonPositiveRate(t *testing.T) {
	if _, err := ConvertAlt(AltAssetScale, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero rate, got %v", err)
	}
	if _, err := ConvertAlt(AltAssetScale, -5); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative rate, got %v", err)
	}
}

func TestConvertAltOverflow(t *testing.T) {
	if _, err := ConvertAlt(math.MaxInt64, math.MaxInt64); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestConvertAltFloors(t *testing.T) {
	// 1 unit at rate 1 is 1/1e9, which floors to zero.
	got, err := ConvertAlt(1, 1)
	if err != nil {
		t.Fatalf("ConvertAlt returned error: %v", err)
	}
	if got != 0 {
		t.Fatalf("ConvertAlt(1, 1) = %d, want 0", got)
	}
}
