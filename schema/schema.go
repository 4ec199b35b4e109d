// Package schema describes the register layout of a Modbus device: groups of
// typed points, repeating groups and the symbol tables of enums and
// bitfields. A Schema is plain data; binding it to a device is the job of the
// binding package.
package schema

// Schema is the root of a register map description.
type Schema struct {
	// Name identifies the device family described by the schema.
	Name string `json:"name"`
	// Counts declares the bounds shared by arrays and repeating groups.
	Counts []*Count `json:"counts,omitempty"`
	// Groups lists contiguous register ranges.
	Groups []*Group `json:"groups"`
	// RepeatingGroups lists group templates replicated at a fixed stride.
	RepeatingGroups []*RepeatingGroup `json:"repeatingGroups,omitempty"`
}

// Count names the number of elements of an array or repeating group.
type Count struct {
	// ID is the document-local identifier other entries refer to.
	ID string `json:"$id,omitempty"`
	// Ref points at a Count declared elsewhere in the document. It is
	// cleared once the reference has been resolved.
	Ref      string `json:"$ref,omitempty"`
	Name     string `json:"name,omitempty"`
	MaxValue uint16 `json:"maxValue,omitempty"`
}

// Group is a contiguous run of points in a single table.
type Group struct {
	Name         string   `json:"name"`
	BaseRegister uint16   `json:"baseRegister"`
	Table        Table    `json:"table"`
	Points       []*Point `json:"points"`
}

// SizeInBytes returns the size of the buffer holding every point of the group.
func (g *Group) SizeInBytes() int {
	size := 0
	for _, p := range g.Points {
		size += p.SpanInBytes()
	}
	return size
}

// Point looks up a point by name.
func (g *Group) Point(name string) (*Point, bool) {
	for _, p := range g.Points {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// RepeatingGroup replicates its groups Count.MaxValue times, each replica
// starting Every registers after the previous one.
type RepeatingGroup struct {
	Name   string   `json:"name"`
	Every  uint16   `json:"every"`
	Count  *Count   `json:"count"`
	Groups []*Group `json:"groups"`
}

// Entries returns the number of replicas.
func (r *RepeatingGroup) Entries() int {
	if r.Count == nil {
		return 0
	}
	return int(r.Count.MaxValue)
}

// Symbol is one member of an enum or bitfield. For enums Value is the encoded
// value; for bitfields it is the bit index.
type Symbol struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Level *Level `json:"level,omitempty"`
}

// Severity returns the symbol level, LevelNone when unset.
func (s Symbol) Severity() Level {
	if s.Level == nil {
		return LevelNone
	}
	return *s.Level
}
