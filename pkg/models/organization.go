package models

import "time"

// OrganisationType 组织类型，与目录中的品牌/供应商档案一一对应
type OrganisationType string

const (
	OrganisationBrand    OrganisationType = "brand"
	OrganisationSupplier OrganisationType = "supplier"
)

// Valid reports whether t is a known organisation type.
func (t OrganisationType) Valid() bool {
	return t == OrganisationBrand || t == OrganisationSupplier
}

// OrganisationProfile links an organisation to exactly one directory listing.
// Kind always equals the owning organisation's Type.
type OrganisationProfile struct {
	Kind OrganisationType `json:"kind"`
	ID   string           `json:"id"`
}

// BrandProfile builds the profile reference for a brand listing.
func BrandProfile(id string) OrganisationProfile {
	return OrganisationProfile{Kind: OrganisationBrand, ID: id}
}

// SupplierProfile builds the profile reference for a supplier listing.
func SupplierProfile(id string) OrganisationProfile {
	return OrganisationProfile{Kind: OrganisationSupplier, ID: id}
}

// Columns splits the profile into the nullable brand_id / supplier_id pair
// used by the relational schema.
func (p OrganisationProfile) Columns() (brandID, supplierID *string) {
	id := p.ID
	switch p.Kind {
	case OrganisationBrand:
		return &id, nil
	case OrganisationSupplier:
		return nil, &id
	}
	return nil, nil
}

// ProfileFromColumns is the inverse of Columns. ok is false when the pair
// does not describe exactly one profile of the given type.
func ProfileFromColumns(t OrganisationType, brandID, supplierID *string) (OrganisationProfile, bool) {
	switch {
	case t == OrganisationBrand && brandID != nil && supplierID == nil:
		return BrandProfile(*brandID), true
	case t == OrganisationSupplier && supplierID != nil && brandID == nil:
		return SupplierProfile(*supplierID), true
	}
	return OrganisationProfile{}, false
}

// Organisation is the tenant grouping users around one brand or supplier profile
type Organisation struct {
	ID        string              `json:"id" db:"id"`
	Name      string              `json:"name" db:"name"`
	Slug      string              `json:"slug" db:"slug"`
	Type      OrganisationType    `json:"type" db:"type"`
	Profile   OrganisationProfile `json:"profile"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// UserOrganisation is an organisation seen from one member, with that member's role
type UserOrganisation struct {
	Organisation
	Role     OrgRole   `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
