// File: control/tracing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/momentics/relay-ws"

// Tracer returns the tracer used by relay components. Spans are no-ops
// unless the host process installs an OpenTelemetry trace provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
