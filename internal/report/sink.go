package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

// Sink receives the JSON form of every report. udp.Broadcaster and
// MQTTSink implement it.
type Sink interface {
	Send(payload []byte) error
	Close() error
}

// Publisher fans a report out to its sinks. A failing sink does not stop the
// others; failures are logged and returned joined.
type Publisher struct {
	sinks []namedSink
}

type namedSink struct {
	name string
	sink Sink
}

func (p *Publisher) Add(name string, s Sink) {
	if s == nil {
		return
	}
	p.sinks = append(p.sinks, namedSink{name: name, sink: s})
}

func (p *Publisher) Len() int { return len(p.sinks) }

func (p *Publisher) Publish(r Report) error {
	if p == nil || len(p.sinks) == 0 {
		return nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("report marshal: %w", err)
	}
	var errs []error
	for _, ns := range p.sinks {
		if err := ns.sink.Send(payload); err != nil {
			log.Printf("report sink %s send failed: %v", ns.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, ns := range p.sinks {
		if err := ns.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
	}
	p.sinks = nil
	return errors.Join(errs...)
}
