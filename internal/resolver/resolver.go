// Package resolver answers "is this location under alert" for a snapshot of
// active alert records, using the location directory for containment.
package resolver

import (
	"strings"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

const (
	MaxSummarySubdivisions = 8
	MaxSummaryDistricts    = 5
)

type Directory interface {
	Get(id string) (models.LocationNode, bool)
}

type CountrySummary struct {
	TotalAlerts      int            `json:"totalAlerts"`
	SubdivisionCount int            `json:"oblastCount"`
	Subdivisions     []string       `json:"oblasts"`
	HasMore          bool           `json:"hasMore"`
	ThreatCounts     map[string]int `json:"threats"`
}

type LocationSummary struct {
	Total        int            `json:"total"`
	ThreatCounts map[string]int `json:"types"`
	Districts    []string       `json:"raions"`
	HasMore      bool           `json:"hasMore"`
}

type Resolver struct {
	dir Directory
}

func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// IsActive reports whether locationID is affected by any alert. An alert on
// B affects A when B is A, B is A's subdivision, B declares A as its
// subdivision, or A is a subdivision containing B.
func (r *Resolver) IsActive(alerts []models.AlertRecord, locationID string) bool {
	if locationID == "" {
		return false
	}
	loc, known := r.dir.Get(locationID)

	for _, a := range alerts {
		if r.affects(a, locationID, loc, known) {
			return true
		}
	}
	return false
}

func (r *Resolver) affects(a models.AlertRecord, locationID string, loc models.LocationNode, known bool) bool {
	if a.LocationID == locationID {
		return true
	}
	if known && loc.ParentID != "" && a.LocationID == loc.ParentID {
		return true
	}
	if a.ParentSubdivisionID == locationID {
		return true
	}
	if known && loc.IsSubdivision() {
		if alertLoc, ok := r.dir.Get(a.LocationID); ok && alertLoc.ParentID == locationID {
			return true
		}
	}
	return false
}

// DetailsFor returns the alerts raised directly on locationID or declaring it
// as their subdivision.
func (r *Resolver) DetailsFor(alerts []models.AlertRecord, locationID string) []models.AlertRecord {
	var out []models.AlertRecord
	for _, a := range alerts {
		if a.LocationID == locationID || a.ParentSubdivisionID == locationID {
			out = append(out, a)
		}
	}
	return out
}

// ThreatTypes lists distinct threat kinds in first-seen order.
func ThreatTypes(alerts []models.AlertRecord) []string {
	seen := make(map[models.ThreatType]bool)
	out := make([]string, 0)
	for _, a := range alerts {
		t := threatOf(a)
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, string(t))
	}
	return out
}

// Summarize aggregates the whole snapshot. Only subdivision-level records
// count towards the affected subdivisions.
func (r *Resolver) Summarize(alerts []models.AlertRecord) CountrySummary {
	s := CountrySummary{
		TotalAlerts:  len(alerts),
		Subdivisions: make([]string, 0),
		ThreatCounts: make(map[string]int),
	}

	seen := make(map[string]bool)
	for _, a := range alerts {
		s.ThreatCounts[string(threatOf(a))]++

		if a.LocationKind != models.KindSubdivision {
			continue
		}
		name := r.titleOf(a)
		if seen[name] {
			continue
		}
		seen[name] = true
		s.SubdivisionCount++
		if len(s.Subdivisions) < MaxSummarySubdivisions {
			s.Subdivisions = append(s.Subdivisions, name)
		}
	}
	s.HasMore = s.SubdivisionCount > MaxSummarySubdivisions

	return s
}

// SummarizeLocation aggregates the alerts relevant to locationID: those on
// the location itself, declaring it as subdivision, or on a district or city
// it contains.
func (r *Resolver) SummarizeLocation(alerts []models.AlertRecord, locationID string) LocationSummary {
	s := LocationSummary{
		ThreatCounts: make(map[string]int),
		Districts:    make([]string, 0),
	}
	loc, known := r.dir.Get(locationID)

	var districts int
	for _, a := range alerts {
		relevant := a.LocationID == locationID || a.ParentSubdivisionID == locationID
		if !relevant && known && loc.IsSubdivision() {
			if alertLoc, ok := r.dir.Get(a.LocationID); ok && alertLoc.ParentID == locationID {
				relevant = true
			}
		}
		if !relevant {
			continue
		}

		s.Total++
		s.ThreatCounts[string(threatOf(a))]++

		if a.LocationKind == models.KindDistrict {
			districts++
			if len(s.Districts) < MaxSummaryDistricts {
				s.Districts = append(s.Districts, r.districtName(a))
			}
		}
	}
	s.HasMore = districts > MaxSummaryDistricts

	return s
}

func threatOf(a models.AlertRecord) models.ThreatType {
	if a.Threat == "" {
		return models.ThreatAirRaid
	}
	return a.Threat
}

func (r *Resolver) titleOf(a models.AlertRecord) string {
	if a.LocationTitle != "" {
		return a.LocationTitle
	}
	if n, ok := r.dir.Get(a.LocationID); ok {
		return n.Name
	}
	return a.LocationID
}

func (r *Resolver) districtName(a models.AlertRecord) string {
	if a.LocationTitle != "" {
		return strings.TrimSuffix(a.LocationTitle, " район")
	}
	if n, ok := r.dir.Get(a.LocationID); ok {
		return strings.TrimSuffix(n.Name, " район")
	}
	return a.LocationID
}
