package cbmgmtx

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/couchbaselabs/cbclusterboot/cbmgmtx")
