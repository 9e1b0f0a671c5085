// Package core runs patient loads end to end.
//
// A load reads a patients.csv body through the loader, which maps each row
// to a FHIR Patient. The service then optionally upserts the patients into
// PostgreSQL and pushes them to a FHIR server. Every load, successful or
// not, is kept in load history.
//
// Concurrency is bounded by a [LoadLimiter]; requests that wait too long
// for a slot fail with [ErrTooManyLoads].
//
// Technical errors are mapped to user-facing messages with [MapError]:
//
//   - ROW001, DEC001, PAT001: row and resource errors
//   - FILE001-FILE003: request body errors
//   - LOAD001-LOAD003: busy, cancelled, timed out
//   - DB001-DB005: database errors
//   - EXP001-EXP002: export errors
package core
