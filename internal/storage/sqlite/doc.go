// Package sqlite persists tracking runs in a SQLite database: one row per
// run, every marker observation, and every order-parameter sample.
//
// The schema is managed with golang-migrate from migrations embedded in the
// binary, so a database file can be opened from any working directory.
package sqlite
