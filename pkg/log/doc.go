// Package log provides the structured logger used across the bookkeeping
// engine.
//
// Loggers are passed explicitly into constructors; engines name their
// subsystem once and attach persistent context with WithKV:
//
//	logger := log.NewZapLogger(log.Config{Format: "logfmt", Level: log.LevelInfo})
//	accrualLogger := logger.WithName("accrual").WithKV("member", memberID)
//	accrualLogger.Info("liabilities accrued", "created", 3)
//
// A logger can also travel in a context.Context:
//
//	ctx = log.SetContextLogger(ctx, logger)
//	log.FromContext(ctx).Debug("processing raw transaction", "id", raw.ID)
//
// FromContext never returns nil; without a stored logger it hands back a
// NoopLogger, which is also what the library packages default to.
package log
