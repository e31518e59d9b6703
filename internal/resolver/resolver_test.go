package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-raid-alerts/internal/locations"
	"github.com/mr1hm/go-raid-alerts/internal/models"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	dir, err := locations.Load()
	require.NoError(t, err)
	return New(dir)
}

func TestIsActive_ContainmentChecks(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		name     string
		alerts   []models.AlertRecord
		location string
		want     bool
	}{
		{
			name:     "direct match",
			alerts:   []models.AlertRecord{{LocationID: "151", LocationKind: models.KindDistrict}},
			location: "151",
			want:     true,
		},
		{
			name:     "alert on own subdivision",
			alerts:   []models.AlertRecord{{LocationID: "24", LocationKind: models.KindSubdivision}},
			location: "151",
			want:     true,
		},
		{
			name:     "alert declares watched location as subdivision",
			alerts:   []models.AlertRecord{{LocationID: "9001", LocationKind: models.KindCity, ParentSubdivisionID: "24"}},
			location: "24",
			want:     true,
		},
		{
			name:     "subdivision contains alerted district",
			alerts:   []models.AlertRecord{{LocationID: "151", LocationKind: models.KindDistrict}},
			location: "24",
			want:     true,
		},
		{
			name:     "sibling district does not affect",
			alerts:   []models.AlertRecord{{LocationID: "152", LocationKind: models.KindDistrict}},
			location: "151",
			want:     false,
		},
		{
			name:     "other subdivision",
			alerts:   []models.AlertRecord{{LocationID: "44", LocationKind: models.KindDistrict}},
			location: "24",
			want:     false,
		},
		{
			name:     "empty location",
			alerts:   []models.AlertRecord{{LocationID: "24"}},
			location: "",
			want:     false,
		},
		{
			name:     "unknown watched location still matches directly",
			alerts:   []models.AlertRecord{{LocationID: "777"}},
			location: "777",
			want:     true,
		},
		{
			name:     "no alerts",
			location: "24",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsActive(tt.alerts, tt.location))
		})
	}
}

func TestIsActive_DistrictClearsWhileUnrelatedDistrictStays(t *testing.T) {
	r := newResolver(t)

	umanAndDnipro := []models.AlertRecord{
		{LocationID: "151", LocationKind: models.KindDistrict},
		{LocationID: "44", LocationKind: models.KindDistrict},
	}
	assert.True(t, r.IsActive(umanAndDnipro, "24"))

	onlyDnipro := []models.AlertRecord{
		{LocationID: "44", LocationKind: models.KindDistrict},
	}
	assert.False(t, r.IsActive(onlyDnipro, "24"))
}

func TestDetailsFor(t *testing.T) {
	r := newResolver(t)
	alerts := []models.AlertRecord{
		{LocationID: "24", ParentSubdivisionID: "24"},
		{LocationID: "151", ParentSubdivisionID: "24", Threat: models.ThreatArtillery},
		{LocationID: "44", ParentSubdivisionID: "9"},
	}

	details := r.DetailsFor(alerts, "24")
	require.Len(t, details, 2)
	assert.Equal(t, []string{"air_raid", "artillery_shelling"}, ThreatTypes(details))

	assert.Empty(t, r.DetailsFor(alerts, "31"))
}

func TestSummarize_CapsSubdivisions(t *testing.T) {
	r := newResolver(t)

	var alerts []models.AlertRecord
	for i := 0; i < 10; i++ {
		alerts = append(alerts, models.AlertRecord{
			LocationID:    fmt.Sprint(100 + i),
			LocationKind:  models.KindSubdivision,
			LocationTitle: fmt.Sprintf("Область %d", i),
		})
	}
	// a duplicate subdivision record and a district do not add subdivisions
	alerts = append(alerts,
		models.AlertRecord{LocationID: "100", LocationKind: models.KindSubdivision, LocationTitle: "Область 0", Threat: models.ThreatArtillery},
		models.AlertRecord{LocationID: "151", LocationKind: models.KindDistrict, Threat: models.ThreatOther},
	)

	s := r.Summarize(alerts)
	assert.Equal(t, 12, s.TotalAlerts)
	assert.Equal(t, 10, s.SubdivisionCount)
	assert.Len(t, s.Subdivisions, MaxSummarySubdivisions)
	assert.True(t, s.HasMore)
	assert.Equal(t, map[string]int{"air_raid": 10, "artillery_shelling": 1, "other": 1}, s.ThreatCounts)
}

func TestSummarize_Empty(t *testing.T) {
	r := newResolver(t)
	s := r.Summarize(nil)
	assert.Zero(t, s.TotalAlerts)
	assert.False(t, s.HasMore)
	assert.NotNil(t, s.Subdivisions)
}

func TestSummarizeLocation_CapsDistricts(t *testing.T) {
	r := newResolver(t)

	// Dnipropetrovsk oblast has seven districts, 42..48.
	var alerts []models.AlertRecord
	for id := 42; id <= 48; id++ {
		alerts = append(alerts, models.AlertRecord{
			LocationID:   fmt.Sprint(id),
			LocationKind: models.KindDistrict,
		})
	}
	alerts = append(alerts, models.AlertRecord{LocationID: "151", LocationKind: models.KindDistrict})

	s := r.SummarizeLocation(alerts, "9")
	assert.Equal(t, 7, s.Total)
	assert.Len(t, s.Districts, MaxSummaryDistricts)
	assert.True(t, s.HasMore)
	assert.Equal(t, "Кам'янський", s.Districts[0])
	assert.Equal(t, 7, s.ThreatCounts["air_raid"])
}
