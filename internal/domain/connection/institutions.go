package connection

import (
	"sort"
	"strings"
)

// Institution is an entry of the static catalog offered by the automated link.
type Institution struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IssuesCredit bool   `json:"issuesCredit"`
	Popular      bool   `json:"popular"`
}

var institutions = []Institution{
	{ID: "chase", Name: "Chase", IssuesCredit: true, Popular: true},
	{ID: "bank-of-america", Name: "Bank of America", IssuesCredit: true, Popular: true},
	{ID: "wells-fargo", Name: "Wells Fargo", IssuesCredit: true, Popular: true},
	{ID: "citi", Name: "Citibank", IssuesCredit: true, Popular: true},
	{ID: "capital-one", Name: "Capital One", IssuesCredit: true, Popular: true},
	{ID: "us-bank", Name: "U.S. Bank", IssuesCredit: true},
	{ID: "pnc", Name: "PNC Bank"},
	{ID: "td-bank", Name: "TD Bank"},
	{ID: "ally", Name: "Ally Bank"},
	{ID: "schwab", Name: "Charles Schwab"},
	{ID: "fidelity", Name: "Fidelity"},
	{ID: "navy-federal", Name: "Navy Federal Credit Union", IssuesCredit: true},
	{ID: "usaa", Name: "USAA", IssuesCredit: true},
	{ID: "discover", Name: "Discover Bank", IssuesCredit: true},
}

// Institutions returns a copy of the catalog.
func Institutions() []Institution {
	out := make([]Institution, len(institutions))
	copy(out, institutions)
	return out
}

// FindInstitution matches an id or a case-insensitive name.
func FindInstitution(key string) (Institution, bool) {
	key = strings.TrimSpace(key)
	for _, inst := range institutions {
		if inst.ID == key || strings.EqualFold(inst.Name, key) {
			return inst, true
		}
	}
	return Institution{}, false
}

// SearchInstitutions returns catalog entries whose name contains query.
// An empty query returns the popular institutions. Popular entries sort first.
func SearchInstitutions(query string) []Institution {
	q := strings.ToLower(strings.TrimSpace(query))

	var out []Institution
	for _, inst := range institutions {
		if q == "" && !inst.Popular {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(inst.Name), q) {
			continue
		}
		out = append(out, inst)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Popular && !out[j].Popular
	})
	return out
}
