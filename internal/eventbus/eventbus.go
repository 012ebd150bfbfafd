// Package eventbus wraps nats.go as a reconnecting publisher used for
// the outputs that have no other natural transport — relocation
// requests, health reports, and the "last replica lost" warning.
// SubjectDiagnostics is defined, but nothing in this module publishes
// diagnostic dumps on it.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects used by this module's outputs; Publish appends ".<region>".
const (
	SubjectRelocations  = "ddc.relocations"
	SubjectDiagnostics  = "ddc.diagnostics"
	SubjectHealth       = "ddc.health"
	SubjectZeroLastReplica = "ddc.events.zeroserverleft"
)

// Publisher is a reconnecting nats.go publisher.
type Publisher struct {
	nc  *nats.Conn
	log func(string, ...interface{})
}

// NewPublisher connects to url with an infinite-retry reconnect posture.
func NewPublisher(url string, logf func(string, ...interface{})) (*Publisher, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	opts := []nats.Option{
		nats.Name("teamcollection"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, log: logf}, nil
}

// Publish sends payload to subject.region, namespacing every output by
// region the same way this module's persistent keys are namespaced.
func (p *Publisher) Publish(ctx context.Context, subject, region string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject+"."+region, payload)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Subscriber lets a test or diagnostic client observe published events.
type Subscriber struct {
	nc *nats.Conn
}

// NewSubscriber connects a bare subscriber-only connection.
func NewSubscriber(url string) (*Subscriber, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc}, nil
}

// Subscribe registers fn against subject, returning the underlying
// nats.Subscription for the caller to Unsubscribe.
func (s *Subscriber) Subscribe(subject string, fn func(*nats.Msg)) (*nats.Subscription, error) {
	return s.nc.Subscribe(subject, fn)
}

func (s *Subscriber) Close() { s.nc.Close() }
