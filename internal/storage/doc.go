// Package storage keeps every ingested reading.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│    Store    │────▶│   Archive   │
//	│    Loop     │     │ (log + WAL) │     │  (Parquet)  │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │                   │
//	                           ▼                   ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │    Stats    │     │   DuckDB    │
//	                    │   Engine    │     │   Rollups   │
//	                    └─────────────┘     └─────────────┘
//
// The storage system provides:
//   - An append-only in-memory log, ordered by timestamp
//   - A write-ahead log replayed on startup
//   - Daily Parquet archives of completed days
//   - DuckDB queries over the archive
//
// Nothing is ever deleted: archiving copies completed days.
package storage
