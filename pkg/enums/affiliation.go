package enums

import "fmt"

// Affiliation is the corporate wellness program a user belongs to.
type Affiliation string

const (
	AffiliationNone      Affiliation = "NONE"
	AffiliationWellhub   Affiliation = "WELLHUB"
	AffiliationTotalpass Affiliation = "TOTALPASS"
)

var validAffiliations = []Affiliation{
	AffiliationNone,
	AffiliationWellhub,
	AffiliationTotalpass,
}

// String implements fmt.Stringer.
func (a Affiliation) String() string {
	return string(a)
}

// IsValid reports whether the value is a known Affiliation.
func (a Affiliation) IsValid() bool {
	for _, candidate := range validAffiliations {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsCorporate reports whether the affiliation receives monthly credits.
func (a Affiliation) IsCorporate() bool {
	return a == AffiliationWellhub || a == AffiliationTotalpass
}

// ParseAffiliation converts raw input into an Affiliation.
func ParseAffiliation(value string) (Affiliation, error) {
	for _, candidate := range validAffiliations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid affiliation %q", value)
}
