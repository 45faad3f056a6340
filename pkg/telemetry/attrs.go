package telemetry

import (
	"fmt"
	"maps"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

type Phase int

const (
	Setup Phase = iota
	Fuzzing
	Triage
	Reporting
)

func (p Phase) String() string {
	switch p {
	case Setup:
		return "setup"
	case Fuzzing:
		return "fuzzing"
	case Triage:
		return "triage"
	case Reporting:
		return "reporting"
	default:
		return "unknown"
	}
}

type SpanAttributes struct {
	Phase string

	CampaignID optional[string] // baeum.campaign.id
	Target     optional[string] // baeum.campaign.target
	OutputDir  optional[string] // baeum.campaign.output_dir
	StdinInput optional[bool]   // baeum.campaign.stdin
	Workers    optional[int]    // baeum.pool.workers

	extraAttributes map[string]any
}

func NewSpanAttributes(phase Phase) *SpanAttributes {
	return &SpanAttributes{
		Phase:           phase.String(),
		extraAttributes: make(map[string]any),
	}
}

// EmptySpanAttributes has no phase and is meant to be populated later.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{extraAttributes: make(map[string]any)}
}

// Merge copies fields set in other but unset here. Phase always follows other
// when other has one.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	if other.Phase != "" {
		o.Phase = other.Phase
	}

	mergeOptional(&o.CampaignID, &other.CampaignID)
	mergeOptional(&o.Target, &other.Target)
	mergeOptional(&o.OutputDir, &other.OutputDir)
	mergeOptional(&o.StdinInput, &other.StdinInput)
	mergeOptional(&o.Workers, &other.Workers)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithCampaignID(val string) *SpanAttributes {
	o.CampaignID.Set(val)
	return o
}

func (o *SpanAttributes) WithTarget(val string) *SpanAttributes {
	o.Target.Set(val)
	return o
}

func (o *SpanAttributes) WithOutputDir(val string) *SpanAttributes {
	o.OutputDir.Set(val)
	return o
}

func (o *SpanAttributes) WithStdinInput(val bool) *SpanAttributes {
	o.StdinInput.Set(val)
	return o
}

func (o *SpanAttributes) WithWorkers(val int) *SpanAttributes {
	o.Workers.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if o.Phase != "" {
		attrs = append(attrs, attribute.String("baeum.phase", o.Phase))
	}
	if o.CampaignID.set {
		attrs = append(attrs, attribute.String("baeum.campaign.id", o.CampaignID.val))
	}
	if o.Target.set {
		attrs = append(attrs, attribute.String("baeum.campaign.target", o.Target.val))
	}
	if o.OutputDir.set {
		attrs = append(attrs, attribute.String("baeum.campaign.output_dir", o.OutputDir.val))
	}
	if o.StdinInput.set {
		attrs = append(attrs, attribute.Bool("baeum.campaign.stdin", o.StdinInput.val))
	}
	if o.Workers.set {
		attrs = append(attrs, attribute.Int("baeum.pool.workers", o.Workers.val))
	}

	keys := make([]string, 0, len(o.extraAttributes))
	for k := range o.extraAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := o.extraAttributes[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case uint32:
			attrs = append(attrs, attribute.Int64(k, int64(val)))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make(EventAttributes, 0, len(attributes))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, attributes[k]))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
