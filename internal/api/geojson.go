package api

import (
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON maps each located node to a point carrying its current alert
// state. Nodes without coordinates are left out.
func (h *Handler) toGeoJSON(nodes []models.LocationNode, alerts []models.AlertRecord) FeatureCollection {
	features := make([]Feature, 0, len(nodes))

	for _, n := range nodes {
		if n.Lat == 0 && n.Lon == 0 {
			continue
		}
		summary := h.resolver.SummarizeLocation(alerts, n.ID)
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{n.Lon, n.Lat},
			},
			Properties: map[string]any{
				"uid":        n.ID,
				"name":       n.Name,
				"short":      n.Short,
				"alert":      h.resolver.IsActive(alerts, n.ID),
				"alertTypes": resolver.ThreatTypes(h.resolver.DetailsFor(alerts, n.ID)),
				"alertCount": summary.Total,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
