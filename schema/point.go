package schema

// Point is one named value within a group.
type Point struct {
	Name        string    `json:"name"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	Type        PointType `json:"type"`
	// Length is the string length in bytes, or the padding length in registers.
	Length *uint16 `json:"length,omitempty"`
	// Count turns the point into a fixed-size array.
	Count       *Count   `json:"count,omitempty"`
	ScaleFactor *float64 `json:"scaleFactor,omitempty"`
	Offset      *float64 `json:"offset,omitempty"`
	// MinValue and MaxValue are only enforced on write.
	MinValue *float64 `json:"minValue,omitempty"`
	MaxValue *float64 `json:"maxValue,omitempty"`
	Symbols  []Symbol `json:"symbols,omitempty"`
}

// SizeInBytes returns the encoded size of a single element.
func (p *Point) SizeInBytes() int {
	switch p.Type {
	case TypeString:
		if p.Length == nil {
			return 0
		}
		return int(*p.Length)
	case TypePadding:
		if p.Length == nil {
			return 2
		}
		return int(*p.Length) * 2
	}
	return p.Type.Bits() / 8
}

// Elements returns the array length, or 1 for scalar points.
func (p *Point) Elements() int {
	if p.Count == nil {
		return 1
	}
	return int(p.Count.MaxValue)
}

// SpanInBytes is the space the point occupies in its group buffer.
func (p *Point) SpanInBytes() int {
	return p.SizeInBytes() * p.Elements()
}

// IsArray reports whether the point declares a Count.
func (p *Point) IsArray() bool {
	return p.Count != nil
}

// Scaled reports whether a scale factor or an offset is declared. Declared
// values widen decoded numbers to float64 even when they are 1 and 0.
func (p *Point) Scaled() bool {
	return p.ScaleFactor != nil || p.Offset != nil
}

// Scale applies the forward transform raw*scaleFactor + offset.
func (p *Point) Scale(raw float64) float64 {
	return raw*p.scaleFactor() + p.offset()
}

// Descale applies the inverse transform (value - offset) / scaleFactor.
func (p *Point) Descale(value float64) float64 {
	return (value - p.offset()) / p.scaleFactor()
}

func (p *Point) scaleFactor() float64 {
	if p.ScaleFactor == nil {
		return 1
	}
	return *p.ScaleFactor
}

func (p *Point) offset() float64 {
	if p.Offset == nil {
		return 0
	}
	return *p.Offset
}

// Symbol returns the symbol with the given name.
func (p *Point) Symbol(name string) (Symbol, bool) {
	for _, s := range p.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// LevelOf returns the highest severity among the named symbols.
func (p *Point) LevelOf(names ...string) Level {
	level := LevelNone
	for _, name := range names {
		if s, ok := p.Symbol(name); ok && s.Severity() > level {
			level = s.Severity()
		}
	}
	return level
}

// LevelOfRaw returns the severity of a raw enum or bitfield value: the level
// of the matching enum member, or the highest level among the set bits.
func (p *Point) LevelOfRaw(raw uint64) Level {
	level := LevelNone
	switch {
	case p.Type.IsEnum():
		for _, s := range p.Symbols {
			if s.Value >= 0 && uint64(s.Value) == raw {
				return s.Severity()
			}
		}
	case p.Type.IsBitfield():
		for _, s := range p.Symbols {
			if s.Value < 0 || s.Value >= 64 {
				continue
			}
			if raw&(uint64(1)<<uint(s.Value)) != 0 && s.Severity() > level {
				level = s.Severity()
			}
		}
	}
	return level
}
