// Package seller provides the seller package catalog, seller accounts, and
// the payment completion handlers that materialize registrations and apply
// package upgrades.
package seller

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownPackage is returned when a package id is not in the catalog.
var ErrUnknownPackage = errors.New("unknown seller package")

// Package describes one tier of the fixed seller catalog.
type Package struct {
	ID           string          `json:"id"`
	MaxPhotos    int             `json:"max_photos"`
	MaxVideos    int             `json:"max_videos"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
}

// Catalog package ids, ordered basic < standard < premium.
const (
	PackageBasic    = "basic"
	PackageStandard = "standard"
	PackagePremium  = "premium"
)

// catalog is the fixed seller package catalog. Prices are KES.
var catalog = map[string]Package{
	PackageBasic:    {ID: PackageBasic, MaxPhotos: 1, MaxVideos: 0, Price: decimal.NewFromInt(1000), DurationDays: 30},
	PackageStandard: {ID: PackageStandard, MaxPhotos: 2, MaxVideos: 0, Price: decimal.NewFromInt(1500), DurationDays: 30},
	PackagePremium:  {ID: PackagePremium, MaxPhotos: 3, MaxVideos: 1, Price: decimal.NewFromInt(2500), DurationDays: 30},
}

// tierRank orders packages for upgrade comparisons.
var tierRank = map[string]int{
	PackageBasic:    1,
	PackageStandard: 2,
	PackagePremium:  3,
}

// PackageByID looks up a catalog package.
func PackageByID(id string) (Package, error) {
	pkg, ok := catalog[id]
	if !ok {
		return Package{}, fmt.Errorf("%w: %q", ErrUnknownPackage, id)
	}
	return pkg, nil
}

// StrictlyHigher reports whether target is a strictly higher tier than
// current. Unknown ids are never higher.
func StrictlyHigher(target, current string) bool {
	t, ok := tierRank[target]
	if !ok {
		return false
	}
	c, ok := tierRank[current]
	if !ok {
		return false
	}
	return t > c
}
