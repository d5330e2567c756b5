package billing

import (
	"github.com/thoas/go-funk"

	"github.com/olly-social/olly/internal/models"
)

// PlanDetails is what a LemonSqueezy product entitles its buyer to.
type PlanDetails struct {
	Label       string
	Name        string
	Tier        string
	Duration    string
	Credits     int
	SubLicenses int
	MaxUsers    int
}

const (
	unknownPlanLabel = "Unknown plan"
	creditsPlanLabel = "credits"
)

var (
	DefaultEnterpriseProductIDs = []int{363041, 363064}
	DefaultAgencyProductIDs     = []int{363063, 321751}
	DefaultTeamProductIDs       = []int{363062, 363040}
	DefaultIndividualProductIDs = []int{328561, 285937}
)

type catalogEntry struct {
	productIDs []int
	details    PlanDetails
}

// Catalog maps product ids to plans. The first plan listing a product wins.
type Catalog struct {
	entries []catalogEntry
}

func NewCatalog(enterprise, agency, team, individual []int) *Catalog {
	return &Catalog{
		entries: []catalogEntry{
			{
				productIDs: enterprise,
				details: PlanDetails{
					Label: "Enterprise plan", Name: "Enterprise Lifetime", Tier: "T4",
					Duration: models.PlanDurationLifetime, Credits: 2000, SubLicenses: 19, MaxUsers: 20,
				},
			},
			{
				productIDs: agency,
				details: PlanDetails{
					Label: "Agency plan", Name: "Agency Lifetime", Tier: "T3",
					Duration: models.PlanDurationLifetime, Credits: 1000, SubLicenses: 9, MaxUsers: 10,
				},
			},
			{
				productIDs: team,
				details: PlanDetails{
					Label: "Team plan", Name: "Team Lifetime", Tier: "T2",
					Duration: models.PlanDurationLifetime, Credits: 500, SubLicenses: 4, MaxUsers: 5,
				},
			},
			{
				productIDs: individual,
				details: PlanDetails{
					Label: "Individual plan", Name: "Individual Lifetime", Tier: "T1",
					Duration: models.PlanDurationLifetime, Credits: 100, SubLicenses: 0, MaxUsers: 1,
				},
			},
		},
	}
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		DefaultEnterpriseProductIDs,
		DefaultAgencyProductIDs,
		DefaultTeamProductIDs,
		DefaultIndividualProductIDs,
	)
}

func (c *Catalog) Lookup(productID int) (PlanDetails, bool) {
	for _, entry := range c.entries {
		if funk.ContainsInt(entry.productIDs, productID) {
			return entry.details, true
		}
	}

	return PlanDetails{}, false
}

// Label names the purchase in team notifications.
func (c *Catalog) Label(productID int, isCreditPurchase bool) string {
	if isCreditPurchase {
		return creditsPlanLabel
	}
	if details, ok := c.Lookup(productID); ok {
		return details.Label
	}

	return unknownPlanLabel
}
