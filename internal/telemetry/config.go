package telemetry

// Config holds OpenTelemetry tracing configuration: the fields of
// internal/config.TelemetryConfig plus ServiceName and ServiceVersion,
// which that type does not carry.
type Config struct {
	// Enabled indicates whether tracing is enabled.
	Enabled bool

	// ServiceName is reported to the trace backend.
	ServiceName string

	// ServiceVersion is the running build's version.
	ServiceVersion string

	// Endpoint is the OTLP HTTP endpoint, e.g. "localhost:4318".
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// SampleRate is the trace sampling rate: 1.0 samples everything, 0.0
	// samples nothing, anything between uses ratio-based sampling.
	SampleRate float64
}

// DefaultConfig returns a disabled configuration with sane defaults for the
// fields that matter once tracing is turned on.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "nexus",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
