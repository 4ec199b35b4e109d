package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/goburrow/modbus"

	"github.com/timzifer/modspec/config"
	"github.com/timzifer/modspec/transport"
)

const defaultTimeout = 5 * time.Second

// Client is a connected Modbus master. It issues single protocol requests and
// is wrapped by transport.Pager for unbounded reads and writes.
type Client struct {
	modbus.Client
	handler connection
}

type connection interface {
	Connect() error
	Close() error
}

var _ transport.PageClient = (*Client)(nil)

// ClientFactory creates connected clients for an endpoint.
type ClientFactory func(cfg config.EndpointConfig) (*Client, error)

// NewTCPClientFactory returns a factory that creates Modbus TCP clients.
func NewTCPClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (*Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("endpoint address is required")
		}
		handler := modbus.NewTCPClientHandler(cfg.Address)
		handler.SlaveId = cfg.UnitID
		handler.Timeout = timeout(cfg)
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Address, err)
		}
		return &Client{Client: modbus.NewClient(handler), handler: handler}, nil
	}
}

// NewRTUClientFactory returns a factory that creates Modbus RTU clients on a
// serial device.
func NewRTUClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (*Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("serial device is required")
		}
		handler := modbus.NewRTUClientHandler(cfg.Address)
		handler.SlaveId = cfg.UnitID
		handler.Timeout = timeout(cfg)
		if cfg.BaudRate > 0 {
			handler.BaudRate = cfg.BaudRate
		}
		if cfg.DataBits > 0 {
			handler.DataBits = cfg.DataBits
		}
		if cfg.StopBits > 0 {
			handler.StopBits = cfg.StopBits
		}
		if cfg.Parity != "" {
			parity := strings.ToUpper(cfg.Parity)
			switch parity {
			case "N", "E", "O":
				handler.Parity = parity
			default:
				return nil, fmt.Errorf("unknown parity %q", cfg.Parity)
			}
		}
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Address, err)
		}
		return &Client{Client: modbus.NewClient(handler), handler: handler}, nil
	}
}

// Dial connects to the endpoint with the factory matching its protocol and
// returns the connection wrapped in a pager.
func Dial(cfg config.EndpointConfig, opts ...transport.Option) (*transport.Pager, error) {
	var factory ClientFactory
	switch cfg.ProtocolName() {
	case config.ProtocolTCP:
		factory = NewTCPClientFactory()
	case config.ProtocolRTU:
		factory = NewRTUClientFactory()
	default:
		return nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
	client, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return transport.NewPager(client, opts...), nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}

func timeout(cfg config.EndpointConfig) time.Duration {
	if cfg.Timeout.Duration <= 0 {
		return defaultTimeout
	}
	return cfg.Timeout.Duration
}
