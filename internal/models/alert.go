package models

import (
	"strings"
	"time"
)

type ThreatType string

const (
	ThreatAirRaid     ThreatType = "air_raid"
	ThreatArtillery   ThreatType = "artillery_shelling"
	ThreatUrbanFights ThreatType = "urban_fights"
	ThreatChemical    ThreatType = "chemical"
	ThreatNuclear     ThreatType = "nuclear"
	ThreatOther       ThreatType = "other"
)

// ParseThreatType maps an upstream alert_type tag onto a known threat.
// An empty tag is an air raid; anything unrecognised is ThreatOther.
func ParseThreatType(s string) ThreatType {
	switch t := ThreatType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return ThreatAirRaid
	case ThreatAirRaid, ThreatArtillery, ThreatUrbanFights, ThreatChemical, ThreatNuclear:
		return t
	default:
		return ThreatOther
	}
}

type LocationKind string

const (
	KindSubdivision LocationKind = "subdivision"
	KindDistrict    LocationKind = "district"
	KindCity        LocationKind = "city"
)

// ParseLocationKind accepts both the directory names and the upstream
// location_type tags (oblast, raion, city, hromada).
func ParseLocationKind(s string) LocationKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oblast", "subdivision":
		return KindSubdivision
	case "raion", "district":
		return KindDistrict
	default:
		return KindCity
	}
}

// AlertRecord is one active alert as reported by the upstream provider.
// Records are replaced wholesale on every fetch and never modified.
type AlertRecord struct {
	LocationID          string       `json:"locationUid"`
	LocationKind        LocationKind `json:"locationType"`
	LocationTitle       string       `json:"locationTitle,omitempty"`
	ParentSubdivisionID string       `json:"parentUid,omitempty"`
	Threat              ThreatType   `json:"threat"`
	RawThreat           string       `json:"rawThreat,omitempty"`
	Note                string       `json:"note,omitempty"`
	StartedAt           time.Time    `json:"startedAt,omitzero"`
}
