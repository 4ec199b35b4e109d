package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/timzifer/modspec/binding"
	"github.com/timzifer/modspec/config"
	"github.com/timzifer/modspec/internal/dump"
	"github.com/timzifer/modspec/remote"
	"github.com/timzifer/modspec/schema"
	"github.com/timzifer/modspec/telemetry"
	"github.com/timzifer/modspec/transport"
)

// session is a schema bound to a live endpoint.
type session struct {
	binding *binding.Binding
	filter  *dump.Filter
}

func openSession(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) (*session, error) {
	s, err := schema.Load(cfg.SchemaPath())
	if err != nil {
		return nil, err
	}
	order, err := cfg.Order()
	if err != nil {
		return nil, err
	}
	filter, err := dump.NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	opts := []transport.Option{transport.WithLogger(logger), transport.WithCollector(collector)}
	if cfg.PageWidth > 0 {
		opts = append(opts, transport.WithPageWidth(cfg.PageWidth))
	}
	pager, err := remote.Dial(cfg.Endpoint, opts...)
	if err != nil {
		return nil, err
	}
	b, err := binding.Bind(pager, order, s, binding.WithLogger(logger), binding.WithCollector(collector))
	if err != nil {
		pager.Close()
		return nil, err
	}
	logger.Info().
		Str("schema", s.Name).
		Str("endpoint", cfg.Endpoint.Address).
		Str("byte_order", order.String()).
		Int("registers", b.Len()).
		Msg("device bound")
	return &session{binding: b, filter: filter}, nil
}

func (s *session) poll(ctx context.Context, out io.Writer) error {
	if err := dump.Refresh(ctx, s.binding); err != nil {
		return err
	}
	rows, err := s.filter.Apply(dump.Collect(s.binding))
	if err != nil {
		return err
	}
	return dump.Write(out, rows)
}

func (s *session) Close() error {
	return s.binding.Close()
}

// executeValidate loads the schema and binds it against a simulated device,
// which surfaces register conflicts without touching the endpoint.
func executeValidate(cfg *config.Config, out io.Writer) error {
	s, err := schema.Load(cfg.SchemaPath())
	if err != nil {
		return err
	}
	order, err := cfg.Order()
	if err != nil {
		return err
	}
	if _, err := dump.NewFilter(cfg.Filter); err != nil {
		return err
	}
	b, err := binding.Bind(transport.NewMemory(), order, s)
	if err != nil {
		return err
	}
	entries := 0
	for _, rg := range b.RepeatingGroups() {
		entries += len(rg.Entries())
	}
	fmt.Fprintf(out, "Schema %q is valid.\n", s.Name)
	fmt.Fprintf(out, "  Groups:            %d\n", len(b.Groups()))
	fmt.Fprintf(out, "  Repeating entries: %d\n", entries)
	fmt.Fprintf(out, "  Registers:         %d\n", b.Len())
	return nil
}
