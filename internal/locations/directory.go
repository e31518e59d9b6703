// Package locations is the static directory of administrative units the
// alert provider reports on. It is loaded once and never mutated.
package locations

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

// DefaultSubdivision is Cherkasy oblast, used when a location has no
// coordinates of its own.
const DefaultSubdivision = "24"

//go:embed locations.yaml
var table []byte

type file struct {
	Locations []models.LocationNode `yaml:"locations"`
}

type Directory struct {
	nodes  []models.LocationNode
	byID   map[string]int
	folded []string
}

// Load parses the embedded table.
func Load() (*Directory, error) {
	return Parse(table)
}

func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error decoding locations table: %w", err)
	}
	return New(f.Locations)
}

// New builds a directory and checks that every district or city points at
// an existing subdivision.
func New(nodes []models.LocationNode) (*Directory, error) {
	d := &Directory{
		nodes:  make([]models.LocationNode, len(nodes)),
		byID:   make(map[string]int, len(nodes)),
		folded: make([]string, len(nodes)),
	}
	copy(d.nodes, nodes)

	for i, n := range d.nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("location at index %d has no id", i)
		}
		if _, dup := d.byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate location id %q", n.ID)
		}
		d.byID[n.ID] = i
		d.folded[i] = fold(n.Name) + "\x00" + fold(n.Short)
	}

	for _, n := range d.nodes {
		switch n.Kind {
		case models.KindSubdivision:
			if n.ParentID != "" {
				return nil, fmt.Errorf("subdivision %q must not have a parent", n.ID)
			}
		case models.KindDistrict, models.KindCity:
			p, ok := d.byID[n.ParentID]
			if !ok || !d.nodes[p].IsSubdivision() {
				return nil, fmt.Errorf("location %q references unknown subdivision %q", n.ID, n.ParentID)
			}
		default:
			return nil, fmt.Errorf("location %q has unknown kind %q", n.ID, n.Kind)
		}
	}

	return d, nil
}

func (d *Directory) Get(id string) (models.LocationNode, bool) {
	i, ok := d.byID[id]
	if !ok {
		return models.LocationNode{}, false
	}
	return d.nodes[i], true
}

// All returns the table in its declared order.
func (d *Directory) All() []models.LocationNode {
	out := make([]models.LocationNode, len(d.nodes))
	copy(out, d.nodes)
	return out
}

func (d *Directory) Subdivisions() []models.LocationNode {
	var out []models.LocationNode
	for _, n := range d.nodes {
		if n.IsSubdivision() {
			out = append(out, n)
		}
	}
	return out
}

// SubdivisionOf returns the subdivision containing id, which is id itself
// for subdivisions. Unknown ids yield "".
func (d *Directory) SubdivisionOf(id string) string {
	n, ok := d.Get(id)
	if !ok {
		return ""
	}
	if n.IsSubdivision() {
		return n.ID
	}
	return n.ParentID
}

// Coordinates returns a point used for weather lookups. Districts use their
// subdivision's point; unknown locations fall back to DefaultSubdivision.
func (d *Directory) Coordinates(id string) (lat, lon float64) {
	for _, candidate := range []string{id, d.SubdivisionOf(id), DefaultSubdivision} {
		if n, ok := d.Get(candidate); ok && (n.Lat != 0 || n.Lon != 0) {
			return n.Lat, n.Lon
		}
	}
	return 0, 0
}

// Search resolves a user supplied id or name fragment. Matching ignores
// case and diacritics and returns the first hit in table order.
func (d *Directory) Search(query string) (models.LocationNode, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.LocationNode{}, false
	}
	if n, ok := d.Get(query); ok {
		return n, true
	}

	q := fold(query)
	for i, f := range d.folded {
		if strings.Contains(f, q) {
			return d.nodes[i], true
		}
	}
	return models.LocationNode{}, false
}

var apostrophes = strings.NewReplacer("’", "'", "ʼ", "'", "`", "'")

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(apostrophes.Replace(out))
}
