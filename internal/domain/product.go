/**
 * @description
 * Product catalog for the fixed-term investment tiers. The catalog is static reference
 * data: it is configured once at startup (admin-owned) and read-only to the engine.
 * Validation is pure and has no side effects.
 */

package domain

// Tier identifies an investment product tier.
type Tier string

const (
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierDiamond  Tier = "diamond"
	TierPlatinum Tier = "platinum"
)

// Product describes one investment tier. Amounts are settlement-unit integers and the
// rate is expressed in basis points.
type Product struct {
	Tier         Tier   `json:"tier"`
	Name         string `json:"name"`
	MinAmount    int64  `json:"min_amount"`
	MaxAmount    int64  `json:"max_amount"`
	APRBps       int64  `json:"apr_bps"`
	DurationDays int    `json:"duration_days"`
	Active       bool   `json:"active"`
}

// Catalog holds the tier table.
type Catalog struct {
	products map[Tier]Product
}

// DefaultCatalog returns the standard four-tier table. Platinum is reserved and starts
// inactive.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Product{
		{Tier: TierSilver, Name: "Silver", MinAmount: 100, MaxAmount: 10_000, APRBps: 1200, DurationDays: 30, Active: true},
		{Tier: TierGold, Name: "Gold", MinAmount: 1_000, MaxAmount: 50_000, APRBps: 1500, DurationDays: 60, Active: true},
		{Tier: TierDiamond, Name: "Diamond", MinAmount: 5_000, MaxAmount: 200_000, APRBps: 1800, DurationDays: 90, Active: true},
		{Tier: TierPlatinum, Name: "Platinum", Active: false},
	})
}

// NewCatalog builds a catalog from an explicit product table.
func NewCatalog(products []Product) *Catalog {
	table := make(map[Tier]Product, len(products))
	for _, p := range products {
		table[p.Tier] = p
	}
	return &Catalog{products: table}
}

// Product looks up a tier definition.
func (c *Catalog) Product(tier Tier) (Product, bool) {
	p, ok := c.products[tier]
	return p, ok
}

// Products returns the full tier table.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	return out
}

// Validate checks that a purchase of amount against the given tier is acceptable.
// It returns ErrInvalidProductType for unknown or inactive tiers and
// ErrInvalidInvestmentAmount when the amount falls outside [MinAmount, MaxAmount].
func (c *Catalog) Validate(tier Tier, amount int64) error {
	p, ok := c.products[tier]
	if !ok || !p.Active {
		return ErrInvalidProductType
	}
	if amount < p.MinAmount || amount > p.MaxAmount {
		return ErrInvalidInvestmentAmount
	}
	return nil
}
