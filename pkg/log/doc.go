// Package log provides protocol event capture and trace output for the
// device client and the management server.
//
// Two separate channels exist next to operational logging (slog):
//
//   - Logger receives machine-readable Events at the transport, wire and
//     registration layers. FileLogger stores them as CBOR in .mlog files,
//     Reader and Each stream them back, and SlogAdapter prints them while
//     developing.
//   - Sink receives short human-readable trace lines ("Registered",
//     "[ERROR] Timeout"), the output a device prints on its debug console.
//
// # Basic Usage
//
//	cfg.ProtocolLogger = log.Tee(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//	cfg.Trace = log.NewWriterSink(os.Stdout)
//
// # File Format
//
// Log files are a plain concatenation of CBOR-encoded Events with integer
// keys. The m2m-log tool views and filters them.
package log
