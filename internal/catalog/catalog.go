// Package catalog holds read-only snapshots of the externally managed
// product, location, and person reference entities.
//
// The core consumes these as immutable-enough lookups keyed by id and never
// mutates them; catalog CRUD lives outside the system boundary.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the lifecycle status of a product.
type ProductStatus string

const (
	ProductActive       ProductStatus = "active"
	ProductRecalled     ProductStatus = "recalled"
	ProductExpired      ProductStatus = "expired"
	ProductDiscontinued ProductStatus = "discontinued"
)

// Product is a catalog product snapshot with the lifecycle flags the
// validator needs.
type Product struct {
	ID     string        `yaml:"id"`
	Name   string        `yaml:"name"`
	Status ProductStatus `yaml:"status"`

	// RestrictedUse products require a non-expired certification on the
	// performing person.
	RestrictedUse bool `yaml:"restricted_use,omitempty"`

	// Controlled actions on this product require a distinct authorizer.
	Controlled bool `yaml:"controlled,omitempty"`

	// BaseUnit is the unit conservation is checked in. Conversions maps
	// other units to their factor in base units (1 case = 12 bottle_32oz
	// means Conversions["case"] = 12 with BaseUnit "bottle_32oz").
	BaseUnit    string                     `yaml:"base_unit"`
	Conversions map[string]decimal.Decimal `yaml:"conversions,omitempty"`
}

// Issuable reports whether issue-type events are allowed for the product.
func (p Product) Issuable() bool {
	return p.Status == ProductActive
}

// ToBase converts a value in the given unit to base units.
// Returns false if the unit has no known conversion.
func (p Product) ToBase(value decimal.Decimal, unit string) (decimal.Decimal, bool) {
	if unit == p.BaseUnit {
		return value, true
	}
	factor, ok := p.Conversions[unit]
	if !ok {
		return decimal.Decimal{}, false
	}
	return value.Mul(factor), true
}

// LocationStatus is the lifecycle status of a location.
type LocationStatus string

const (
	LocationActive         LocationStatus = "active"
	LocationDecommissioned LocationStatus = "decommissioned"
)

// Location is a catalog location snapshot.
type Location struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Status LocationStatus `yaml:"status"`

	// AcceptedProducts restricts inbound products when non-empty.
	AcceptedProducts []string `yaml:"accepted_products,omitempty"`
}

// Accepts reports whether the location takes inbound inventory of the
// product. Decommissioned locations accept nothing.
func (l Location) Accepts(productID string) bool {
	if l.Status != LocationActive {
		return false
	}
	if len(l.AcceptedProducts) == 0 {
		return true
	}
	for _, id := range l.AcceptedProducts {
		if id == productID {
			return true
		}
	}
	return false
}

// Certification is a person's credential for restricted-use products.
type Certification struct {
	Kind    string    `yaml:"kind"`
	Expires time.Time `yaml:"expires"`
}

// Person is a catalog person snapshot.
type Person struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	Role           string          `yaml:"role"` // technician | manager | warehouse
	Terminated     bool            `yaml:"terminated,omitempty"`
	Certifications []Certification `yaml:"certifications,omitempty"`
}

// CertifiedAt reports whether the person holds any certification that is
// unexpired at the given instant.
func (p Person) CertifiedAt(t time.Time) bool {
	if p.Terminated {
		return false
	}
	for _, c := range p.Certifications {
		if c.Expires.After(t) {
			return true
		}
	}
	return false
}
