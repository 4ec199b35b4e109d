package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed modspec.schema.json
var documentSchemaJSON string

const documentSchemaName = "modspec.schema.json"

// Validator checks schema documents against the embedded JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded document schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(documentSchemaName, strings.NewReader(documentSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add document schema: %w", err)
	}
	compiled, err := compiler.Compile(documentSchemaName)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// ValidateDocument validates raw JSON. Count references must already be
// resolved, so documents using $ref are checked through ValidateSchema.
func (v *Validator) ValidateDocument(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("document validation failed: %w", err)
	}
	return nil
}

// ValidateSchema validates the canonical JSON form of s.
func (v *Validator) ValidateSchema(s *Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	return v.ValidateDocument(data)
}

var (
	validatorOnce sync.Once
	validator     *Validator
	validatorErr  error
)

func defaultValidator() (*Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = NewValidator()
	})
	return validator, validatorErr
}

// Validate checks the semantic rules the document schema cannot express.
// All violations are reported together.
func (s *Schema) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("schema name must not be empty"))
	}
	for i, c := range s.Counts {
		if c == nil {
			errs = append(errs, fmt.Errorf("counts[%d] is null", i))
			continue
		}
		if c.MaxValue == 0 {
			errs = append(errs, fmt.Errorf("count %q: maxValue must be positive", c.Name))
		}
	}
	for _, g := range s.Groups {
		errs = append(errs, validateGroup(g, "")...)
	}
	for i, rg := range s.RepeatingGroups {
		if rg == nil {
			errs = append(errs, fmt.Errorf("repeatingGroups[%d] is null", i))
			continue
		}
		if strings.TrimSpace(rg.Name) == "" {
			errs = append(errs, fmt.Errorf("repeatingGroups[%d]: name must not be empty", i))
		}
		if rg.Every == 0 {
			errs = append(errs, fmt.Errorf("repeating group %q: every must be positive", rg.Name))
		}
		if rg.Count == nil || rg.Count.MaxValue == 0 {
			errs = append(errs, fmt.Errorf("repeating group %q: count with positive maxValue required", rg.Name))
		}
		for _, g := range rg.Groups {
			errs = append(errs, validateGroup(g, rg.Name+"/")...)
		}
	}
	return errors.Join(errs...)
}

func validateGroup(g *Group, prefix string) []error {
	if g == nil {
		return []error{fmt.Errorf("%snull group", prefix)}
	}
	var errs []error
	where := prefix + g.Name
	if strings.TrimSpace(g.Name) == "" {
		errs = append(errs, fmt.Errorf("%sgroup name must not be empty", prefix))
	}
	if !g.Table.Valid() {
		errs = append(errs, fmt.Errorf("group %q: invalid table %d", where, int(g.Table)))
	}
	names := make(map[string]struct{}, len(g.Points))
	for i, p := range g.Points {
		if p == nil {
			errs = append(errs, fmt.Errorf("group %q: points[%d] is null", where, i))
			continue
		}
		at := fmt.Sprintf("%s.%s", where, p.Name)
		if p.Type != TypePadding {
			if strings.TrimSpace(p.Name) == "" {
				errs = append(errs, fmt.Errorf("group %q: points[%d] name must not be empty", where, i))
			} else if _, dup := names[p.Name]; dup {
				errs = append(errs, fmt.Errorf("point %q: duplicate name", at))
			}
			names[p.Name] = struct{}{}
		}
		if !p.Type.Valid() {
			errs = append(errs, fmt.Errorf("point %q: invalid type %d", at, int(p.Type)))
			continue
		}
		if p.Type == TypeString && (p.Length == nil || *p.Length == 0) {
			errs = append(errs, fmt.Errorf("point %q: string requires a positive length", at))
		}
		if p.Count != nil && p.Count.MaxValue == 0 {
			errs = append(errs, fmt.Errorf("point %q: count maxValue must be positive", at))
		}
		if len(p.Symbols) > 0 && !p.Type.IsEnumOrBitfield() {
			errs = append(errs, fmt.Errorf("point %q: symbols require an enum or bitfield type", at))
		}
		if p.Type.IsBitfield() {
			for _, sym := range p.Symbols {
				if sym.Value < 0 || sym.Value >= p.Type.Bits() {
					errs = append(errs, fmt.Errorf("point %q: bit %d of symbol %q outside %s", at, sym.Value, sym.Name, p.Type))
				}
			}
		}
		if p.ScaleFactor != nil && *p.ScaleFactor == 0 {
			errs = append(errs, fmt.Errorf("point %q: scaleFactor must not be zero", at))
		}
		if p.MinValue != nil && p.MaxValue != nil && *p.MinValue > *p.MaxValue {
			errs = append(errs, fmt.Errorf("point %q: minValue exceeds maxValue", at))
		}
		if p.Type == TypeString && p.Scaled() {
			errs = append(errs, fmt.Errorf("point %q: strings do not accept scaleFactor or offset", at))
		}
	}
	return errs
}
