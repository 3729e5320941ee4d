package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/fieldledger/internal/catalog"
)

// Fixture ids shared across package tests.
const (
	ProductX          = "prod-x"
	ProductCases      = "prod-cases"
	ProductRestricted = "prod-restricted"
	ProductControlled = "prod-controlled"
	ProductRecalled   = "prod-recalled"

	LocWarehouse = "loc-warehouse"
	LocVehicle   = "loc-vehicle"
	LocClosed    = "loc-closed"

	Tech1    = "tech-1"
	Tech2    = "tech-2"
	TechCert = "tech-cert"
	Manager1 = "mgr-1"
	Clerk1   = "wh-1"
)

// Catalog builds the snapshot the package tests share: plain and cased
// products, a restricted and a controlled one, a recalled one, two live
// locations and a decommissioned one, and people covering every role.
func Catalog() *catalog.Snapshot {
	certExpiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	products := []catalog.Product{
		{ID: ProductX, Name: "Product X", Status: catalog.ProductActive, BaseUnit: "unit"},
		{
			ID:       ProductCases,
			Name:     "Bottled Solution",
			Status:   catalog.ProductActive,
			BaseUnit: "bottle_32oz",
			Conversions: map[string]decimal.Decimal{
				"case": decimal.NewFromInt(12),
			},
		},
		{ID: ProductRestricted, Name: "Restricted Compound", Status: catalog.ProductActive, RestrictedUse: true, BaseUnit: "unit"},
		{ID: ProductControlled, Name: "Controlled Compound", Status: catalog.ProductActive, Controlled: true, BaseUnit: "unit"},
		{ID: ProductRecalled, Name: "Recalled Batch", Status: catalog.ProductRecalled, BaseUnit: "unit"},
	}
	locations := []catalog.Location{
		{ID: LocWarehouse, Name: "Main Warehouse", Status: catalog.LocationActive},
		{ID: LocVehicle, Name: "Vehicle 7", Status: catalog.LocationActive},
		{ID: LocClosed, Name: "Closed Depot", Status: catalog.LocationDecommissioned},
	}
	people := []catalog.Person{
		{ID: Tech1, Name: "Field Tech One", Role: "technician"},
		{ID: Tech2, Name: "Field Tech Two", Role: "technician"},
		{
			ID:   TechCert,
			Name: "Certified Tech",
			Role: "technician",
			Certifications: []catalog.Certification{
				{Kind: "restricted-use", Expires: certExpiry},
			},
		},
		{ID: Manager1, Name: "Ops Manager", Role: "manager"},
		{ID: Clerk1, Name: "Warehouse Clerk", Role: "warehouse"},
	}
	return catalog.NewSnapshot(products, locations, people)
}
