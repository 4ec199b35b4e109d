package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned when a schema document cannot be materialized.
var ErrMalformed = errors.New("malformed schema document")

// Parse decodes a JSON schema document. Field names match case-insensitively,
// unknown fields are rejected, count references are resolved and the result
// is validated before it is returned.
func Parse(r io.Reader) (*Schema, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrMalformed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Schema
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrMalformed, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformed)
	}
	if err := s.resolveCounts(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	validator, err := defaultValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateSchema(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &s, nil
}

// TryParse is the non-failing variant of Parse.
func TryParse(r io.Reader) (*Schema, bool) {
	s, err := Parse(r)
	if err != nil {
		return nil, false
	}
	return s, true
}

// ParseYAML decodes a schema written in YAML. The document is converted to
// JSON and goes through the same rules as Parse.
func ParseYAML(r io.Reader) (*Schema, error) {
	var doc interface{}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %w", ErrMalformed, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: convert yaml: %w", ErrMalformed, err)
	}
	return Parse(bytes.NewReader(raw))
}

// ParseCUE evaluates a schema written in CUE. The value must be concrete; it
// is exported to JSON and goes through the same rules as Parse.
func ParseCUE(src []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: compile cue: %w", ErrMalformed, err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: evaluate cue: %w", ErrMalformed, err)
	}
	raw, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: export cue: %w", ErrMalformed, err)
	}
	return Parse(bytes.NewReader(raw))
}

// Load reads a schema from disk, choosing the format by file extension.
func Load(path string) (*Schema, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("schema path must not be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var s *Schema
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err = ParseYAML(bytes.NewReader(raw))
	case ".cue":
		s, err = ParseCUE(raw, path)
	default:
		s, err = Parse(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	return s, nil
}

// Serialize writes the schema as indented JSON. Counts shared by points and
// repeating groups are written once and referenced by $ref.
func (s *Schema) Serialize(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.document())
}

// resolveCounts replaces {"$ref": id} counts with the declared Count.
func (s *Schema) resolveCounts() error {
	declared := make(map[string]*Count, len(s.Counts))
	for i, c := range s.Counts {
		if c == nil {
			return fmt.Errorf("counts[%d] is null", i)
		}
		if c.Ref != "" {
			return fmt.Errorf("counts[%d]: declared count must not be a reference", i)
		}
		if c.ID == "" {
			continue
		}
		if _, dup := declared[c.ID]; dup {
			return fmt.Errorf("counts[%d]: duplicate $id %q", i, c.ID)
		}
		declared[c.ID] = c
	}
	resolve := func(c *Count, where string) (*Count, error) {
		if c == nil || c.Ref == "" {
			return c, nil
		}
		target, ok := declared[c.Ref]
		if !ok {
			return nil, fmt.Errorf("%s: unresolved count reference %q", where, c.Ref)
		}
		return target, nil
	}
	resolveGroups := func(groups []*Group, prefix string) error {
		for _, g := range groups {
			if g == nil {
				return fmt.Errorf("%s: null group", prefix)
			}
			for _, p := range g.Points {
				if p == nil {
					return fmt.Errorf("%s%s: null point", prefix, g.Name)
				}
				c, err := resolve(p.Count, prefix+g.Name+"."+p.Name)
				if err != nil {
					return err
				}
				p.Count = c
			}
		}
		return nil
	}
	if err := resolveGroups(s.Groups, ""); err != nil {
		return err
	}
	for _, rg := range s.RepeatingGroups {
		if rg == nil {
			return errors.New("null repeating group")
		}
		c, err := resolve(rg.Count, rg.Name)
		if err != nil {
			return err
		}
		rg.Count = c
		if err := resolveGroups(rg.Groups, rg.Name+"/"); err != nil {
			return err
		}
	}
	return nil
}

// document returns a copy of s in which declared counts carry an $id and
// every use of them is a $ref.
func (s *Schema) document() *Schema {
	ids := make(map[*Count]string, len(s.Counts))
	doc := &Schema{Name: s.Name}
	for i, c := range s.Counts {
		id := c.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		ids[c] = id
		doc.Counts = append(doc.Counts, &Count{ID: id, Name: c.Name, MaxValue: c.MaxValue})
	}
	ref := func(c *Count) *Count {
		if c == nil {
			return nil
		}
		if id, ok := ids[c]; ok {
			return &Count{Ref: id}
		}
		return &Count{Name: c.Name, MaxValue: c.MaxValue}
	}
	copyGroups := func(groups []*Group) []*Group {
		out := make([]*Group, 0, len(groups))
		for _, g := range groups {
			cg := &Group{Name: g.Name, BaseRegister: g.BaseRegister, Table: g.Table, Points: make([]*Point, 0, len(g.Points))}
			for _, p := range g.Points {
				cp := *p
				cp.Count = ref(p.Count)
				cg.Points = append(cg.Points, &cp)
			}
			out = append(out, cg)
		}
		return out
	}
	doc.Groups = copyGroups(s.Groups)
	for _, rg := range s.RepeatingGroups {
		doc.RepeatingGroups = append(doc.RepeatingGroups, &RepeatingGroup{
			Name:   rg.Name,
			Every:  rg.Every,
			Count:  ref(rg.Count),
			Groups: copyGroups(rg.Groups),
		})
	}
	return doc
}
