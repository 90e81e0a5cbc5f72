// Package log records what crosses the entity's connections, as a capture
// that can be replayed and inspected later.
//
// A capture is separate from operational logging. The transport, the
// connection handler and the Auth exchange each emit Events tagged with
// the Layer they came from; a Logger decides where they go:
//
//	fl, err := log.NewFileLogger("/var/log/entity/server.elog")
//	...
//	svcCfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slogger), fl)
//
// FileLogger appends CBOR records with small integer keys; Reader and
// ReadAll stream them back through a Filter. SlogAdapter mirrors events
// into slog, where they appear only when the handler is at debug level.
// The entity-log command views, filters and exports .elog files.
package log
