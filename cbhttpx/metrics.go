package cbhttpx

import (
	"go.opentelemetry.io/otel"
)

var (
	meter = otel.Meter("github.com/couchbaselabs/cbclusterboot/cbhttpx")
)

var (
	// retriedHttpRequests tracks the number of management requests which were
	// retried after a transient failure.
	retriedHttpRequests, _ = meter.Int64Counter("cbclusterboot.retried_http_requests")
)
