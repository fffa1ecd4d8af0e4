// Package telemetry provides observability instrumentation for pondsync.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Config.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Metrics
//
// Metrics are registered on a private registry and exposed through
// Metrics.Handler, which the management server mounts at the configured
// path. All recording methods are no-ops on a nil or disabled *Metrics, so
// components accept an optional *Metrics without guarding each call.
//
// # Tracing
//
// Spans are started on the global provider under InstrumentationName. The
// farmapi client opens one span per remote call; pond operations and sweeps
// open a parent span through StartOperation.
package telemetry
