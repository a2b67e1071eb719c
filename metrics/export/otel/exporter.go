package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// instruments holds what one family is observed through. Histograms use
// bucket (with an "le" attribute), count and sum; other kinds use value.
type instruments struct {
	value  metric.Int64Observable
	bucket metric.Int64ObservableGauge
	count  metric.Int64ObservableGauge
	sum    metric.Float64ObservableGauge
}

// OTelExporter publishes engine snapshots through observable instruments.
// One callback collects the engine per reader cycle.
type OTelExporter struct {
	source       internaldefs.Source
	families     map[string]instruments
	registration metric.Registration
}

func NewOTelExporter(meter metric.Meter, engine *lexguard.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source, families: make(map[string]instruments)}
	var observables []metric.Observable

	for _, d := range internaldefs.Describe(source) {
		var (
			ins instruments
			err error
		)
		switch d.Kind {
		case internaldefs.Counter:
			var c metric.Int64ObservableCounter
			c, err = meter.Int64ObservableCounter(d.Name, metric.WithDescription(d.Help))
			ins.value = c
			observables = append(observables, c)
		case internaldefs.Gauge:
			var g metric.Int64ObservableGauge
			g, err = meter.Int64ObservableGauge(d.Name, metric.WithDescription(d.Help))
			ins.value = g
			observables = append(observables, g)
		case internaldefs.Histogram:
			ins, err = histogramInstruments(meter, d)
			observables = append(observables, ins.bucket, ins.count, ins.sum)
		}
		if err != nil {
			return nil, fmt.Errorf("create instrument %s: %w", d.Name, err)
		}
		e.families[d.Name] = ins
	}

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func histogramInstruments(meter metric.Meter, d internaldefs.Desc) (instruments, error) {
	var (
		ins instruments
		err error
	)
	if ins.bucket, err = meter.Int64ObservableGauge(d.Name+"_bucket", metric.WithDescription(d.Help+" Cumulative count per le bound.")); err != nil {
		return ins, err
	}
	if ins.count, err = meter.Int64ObservableGauge(d.Name+"_count", metric.WithDescription(d.Help+" Sample count.")); err != nil {
		return ins, err
	}
	ins.sum, err = meter.Float64ObservableGauge(d.Name+"_sum", metric.WithDescription(d.Help+" Sum of samples."), metric.WithUnit("s"))
	return ins, err
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	for _, f := range internaldefs.Collect(e.source) {
		ins, ok := e.families[f.Name]
		if !ok {
			continue
		}
		for _, s := range f.Samples {
			switch {
			case ins.value != nil:
				o.ObserveInt64(ins.value, int64(s.Value))
			case s.Suffix == "_bucket":
				o.ObserveInt64(ins.bucket, int64(s.Value), metric.WithAttributes(attribute.String("le", s.LE)))
			case s.Suffix == "_count":
				o.ObserveInt64(ins.count, int64(s.Value))
			case s.Suffix == "_sum":
				o.ObserveFloat64(ins.sum, s.Value)
			}
		}
	}
	return nil
}

// Close unregisters the callback. The meter provider is left alone.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
