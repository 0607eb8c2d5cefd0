// Package services defines shared utilities consumed by the optimizer and the
// DatoCMS integration.
//
// Key responsibilities:
//   - Context helpers that stamp run and asset identifiers for logging.
//   - Structured error markers plus the Wrap helper that separate batch-fatal
//     failures from per-asset failures and map both to stable reason codes.
//
// Use these helpers when wiring new remote calls so failure classification
// stays uniform across the batch.
package services
