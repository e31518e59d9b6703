package models

type LocationNode struct {
	ID       string       `json:"uid" yaml:"id"`
	Name     string       `json:"name" yaml:"name"`
	Short    string       `json:"short" yaml:"short"`
	Kind     LocationKind `json:"type" yaml:"kind"`
	ParentID string       `json:"parentUid,omitempty" yaml:"parent"`
	Lat      float64      `json:"-" yaml:"lat"`
	Lon      float64      `json:"-" yaml:"lon"`
}

func (n LocationNode) IsSubdivision() bool {
	return n.Kind == KindSubdivision
}
