// Package types defines the core data types shared by the ingestion pipeline.
//
// Key types:
//   - RawSample: one undecoded sample as delivered by a Source
//   - Fields: the typed measurement fields extracted by the parser
//   - Reading: an immutable, derived reading as stored and broadcast
//   - HistoryPoint: the reduced projection served to charts
package types
