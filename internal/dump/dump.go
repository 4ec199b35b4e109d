// Package dump renders the values of a binding for the command line.
package dump

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/modspec/binding"
	"github.com/timzifer/modspec/schema"
)

// Row is one rendered value.
type Row struct {
	Group string
	// Entry is the repeating group entry index, -1 for plain groups.
	Entry      int
	Name       string
	RegisterID int
	Value      interface{}
	Text       string
	Level      schema.Level
	Err        error
}

// Refresh reads every plain group and every repeating group entry.
func Refresh(ctx context.Context, b *binding.Binding) error {
	if err := b.ReadAll(ctx); err != nil {
		return err
	}
	for _, rg := range b.RepeatingGroups() {
		if err := rg.ReadAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Collect decodes the current buffers of b: plain groups first, then the
// entries of every repeating group, each in declaration order.
func Collect(b *binding.Binding) []Row {
	rows := make([]Row, 0, b.Len())
	for _, g := range b.Groups() {
		rows = appendGroup(rows, g, -1)
	}
	for _, rg := range b.RepeatingGroups() {
		for _, e := range rg.Entries() {
			for _, g := range e.Groups() {
				rows = appendGroup(rows, g, e.Index())
			}
		}
	}
	return rows
}

func appendGroup(rows []Row, g *binding.Group, entry int) []Row {
	for _, v := range g.Values() {
		row := Row{Group: g.Name(), Entry: entry, Name: v.Name(), RegisterID: v.RegisterID()}
		value, err := v.Get()
		if err != nil {
			row.Err = err
			row.Text = "error: " + err.Error()
		} else {
			row.Value = value.Interface()
			row.Text = value.String()
			row.Level = v.Level()
		}
		rows = append(rows, row)
	}
	return rows
}

// Filter selects rows with a boolean expression over name, group, entry,
// register, value, text and level. Level names evaluate to their rank, so
// "level >= Warning" keeps every alarm.
type Filter struct {
	source  string
	program *vm.Program
}

// NewFilter compiles source. An empty source keeps every row.
func NewFilter(source string) (*Filter, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return &Filter{}, nil
	}
	program, err := expr.Compile(source, expr.Env(filterEnv(Row{})), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

func (f *Filter) String() string { return f.source }

// Match evaluates the filter against row.
func (f *Filter) Match(row Row) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	out, err := vm.Run(f.program, filterEnv(row))
	if err != nil {
		return false, fmt.Errorf("evaluate filter on %q: %w", row.Name, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Apply returns the rows matching the filter.
func (f *Filter) Apply(rows []Row) ([]Row, error) {
	if f == nil || f.program == nil {
		return rows, nil
	}
	out := rows[:0:0]
	for _, row := range rows {
		ok, err := f.Match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func filterEnv(row Row) map[string]interface{} {
	return map[string]interface{}{
		"name":      row.Name,
		"group":     row.Group,
		"entry":     row.Entry,
		"register":  row.RegisterID,
		"value":     row.Value,
		"text":      row.Text,
		"level":     int(row.Level),
		"None":      int(schema.LevelNone),
		"Warning":   int(schema.LevelWarning),
		"Error":     int(schema.LevelError),
		"Emergency": int(schema.LevelEmergency),
	}
}

// Write prints rows as an aligned table.
func Write(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTER\tGROUP\tNAME\tVALUE\tLEVEL")
	for _, row := range rows {
		group := row.Group
		if row.Entry >= 0 {
			group += "[" + strconv.Itoa(row.Entry) + "]"
		}
		level := ""
		if row.Level != schema.LevelNone {
			level = row.Level.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", row.RegisterID, group, row.Name, row.Text, level)
	}
	return tw.Flush()
}
