// Package sqlite contains the SQLite repository for lane decode runs.
//
// A run groups the frames decoded by one invocation together with the
// tuning parameters that produced them. Every frame stores its decode
// statistics and the refined lanes, so a run can be reloaded and
// compared against a later run without re-decoding.
//
// Schema lives in internal/db/migrations; this package assumes it has
// been applied.
package sqlite
