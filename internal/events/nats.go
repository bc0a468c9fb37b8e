package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes listing events on "<prefix>.<type>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("musicmarket"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

func (p *NATSPublisher) PublishListing(_ context.Context, ev ListingEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(p.prefix, ev.Type), data)
}

func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

func Subject(prefix, typ string) string {
	if prefix == "" {
		return typ
	}
	return prefix + "." + typ
}
