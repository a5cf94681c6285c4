// Package telemetry provides structured logging for jobforge.
//
// Logging is built on zerolog. Components obtain child loggers tagged with
// their component name, and run/target/resource identifiers are attached as
// structured fields so a single update run can be followed across the
// loader, assembler, diff and reconcile phases:
//
//	logger, err := telemetry.NewLogger(telemetry.DefaultLoggingConfig())
//	log := logger.NewComponentLogger("reconcile").WithRunID(runID)
//	log.WithResource("job-dev").Info("resource created")
//
// The logger travels through a context.Context; FromContext returns a usable
// default when none was attached, so library code never nil-checks.
package telemetry
