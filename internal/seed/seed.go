// Package seed provisions the default marketplace catalog so a fresh
// deployment is billable out of the box.
package seed

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	catalogdomain "github.com/veriplex/veriplex/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entry struct {
	name  string
	slug  string
	desc  string
	price float64
}

// defaultCatalog mirrors the reference deployment's marketplace listing.
// Every slug must have a handler in the execution engine.
func defaultCatalog() []entry {
	return []entry{
		{name: "Vehicle RC Verification", slug: "vehicle-rc-verification", desc: "Full registration certificate details", price: 1.0},
		{name: "RC to Mobile Number", slug: "rc-to-mobile", desc: "Registered mobile number for a vehicle", price: 1.0},
		{name: "RC to Engine and Chassis Number", slug: "rc-to-engine-chassis", desc: "Engine and chassis numbers for a vehicle", price: 1.0},
		{name: "Basic Vehicle Info", slug: "basic-vehicle-info", desc: "Owner and registration summary", price: 1.0},
		{name: "Driving License API", slug: "driving-licence", desc: "Driving licence verification", price: 1.0},
		{name: "DL to Challan API", slug: "dl-to-challan", desc: "Challans registered against a licence", price: 1.0},
		{name: "Challan Detail API", slug: "challan-detail", desc: "Traffic challans for a vehicle", price: 1.0},
		{name: "Fuel Price by City", slug: "fuel-price-city", desc: "Daily fuel prices by city", price: 1.0},
		{name: "Fuel Price by State", slug: "fuel-price-state", desc: "Daily fuel prices by state", price: 1.0},
		{name: "PAN Verification", slug: "pan-verification", desc: "PAN card verification", price: 1.0},
		{name: "PAN to Aadhaar Verification", slug: "pan-to-aadhaar", desc: "Aadhaar linkage status for a PAN", price: 1.0},
		{name: "Address Verification", slug: "address-verification", desc: "Address verification by Aadhaar", price: 1.0},
		{name: "GST Verification (Advance)", slug: "gst-verification", desc: "Full GSTIN verification", price: 1.0},
		{name: "GST Basic Details", slug: "gst-basic-details", desc: "Basic GSTIN details", price: 1.0},
		{name: "GST Address", slug: "gst-address", desc: "Registered address for a GSTIN", price: 1.0},
		{name: "GST Aadhaar Status", slug: "gst-aadhaar-status", desc: "Aadhaar authentication status for a GSTIN", price: 1.0},
		{name: "MSME Verification", slug: "msme-verification", desc: "Udyam registration verification", price: 1.0},
		{name: "Udyam API", slug: "phone-to-udyam", desc: "Udyam registrations by phone number", price: 1.0},
		{name: "Voter ID Verification", slug: "voter-id-verification", desc: "Voter ID (EPIC) verification", price: 1.0},
	}
}

// EnsureDefaultCatalog upserts the default services. Existing rows keep their
// operator-adjusted price and active flag; only missing rows are created.
func EnsureDefaultCatalog(db *gorm.DB, genID *snowflake.Node) error {
	now := time.Now().UTC()
	for _, e := range defaultCatalog() {
		if !slug.IsSlug(e.slug) {
			return fmt.Errorf("catalog entry %q has invalid slug %q", e.name, e.slug)
		}
		svc := catalogdomain.Service{
			ID:           int64(genID.Generate()),
			Name:         e.name,
			Slug:         e.slug,
			Description:  e.desc,
			PricePerCall: e.price,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).Create(&svc).Error
		if err != nil {
			return fmt.Errorf("seed service %s: %w", e.slug, err)
		}
	}
	return nil
}
