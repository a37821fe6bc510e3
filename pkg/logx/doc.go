// Package logx configures svcmon's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Call sites free of zerolog's builder chains (fields are plain values)
package logx
