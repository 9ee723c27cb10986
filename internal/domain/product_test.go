package domain

import (
	"errors"
	"testing"
)

func TestCatalogValidate(t *testing.T) {
	catalog := DefaultCatalog()

	cases := []struct {
		name    string
		tier    Tier
		amount  int64
		wantErr error
	}{
		{name: "silver at lower bound", tier: TierSilver, amount: 100},
		{name: "silver at upper bound", tier: TierSilver, amount: 10_000},
		{name: "silver below minimum", tier: TierSilver, amount: 99, wantErr: ErrInvalidInvestmentAmount},
		{name: "silver above maximum", tier: TierSilver, amount: 10_001, wantErr: ErrInvalidInvestmentAmount},
		{name: "gold in range", tier: TierGold, amount: 25_000},
		{name: "diamond in range", tier: TierDiamond, amount: 150_000},
		{name: "zero amount", tier: TierGold, amount: 0, wantErr: ErrInvalidInvestmentAmount},
		{name: "negative amount", tier: TierGold, amount: -500, wantErr: ErrInvalidInvestmentAmount},
		{name: "unknown tier", tier: Tier("bronze"), amount: 1_000, wantErr: ErrInvalidProductType},
		{name: "inactive tier", tier: TierPlatinum, amount: 50_000, wantErr: ErrInvalidProductType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := catalog.Validate(tc.tier, tc.amount)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate(%s, %d) returned error: %v", tc.tier, tc.amount, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate(%s, %d) = %v, want %v", tc.tier, tc.amount, err, tc.wantErr)
			}
		})
	}
}

func TestCatalogProducts(t *testing.T) {
	catalog := DefaultCatalog()

	if _, ok := catalog.Product(TierGold); !ok {
		t.Fatal("expected gold tier in default catalog")
	}
	if got := len(catalog.Products()); got != 4 {
		t.Fatalf("expected 4 products in default catalog, got %d", got)
	}
}
