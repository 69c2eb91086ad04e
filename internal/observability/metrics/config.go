package metrics

import "go.opentelemetry.io/otel/attribute"

// Config carries the identity labels stamped on every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// FilterAttributes drops attributes with empty values so instruments
// never see blank label dimensions.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Value.Emit() == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}
