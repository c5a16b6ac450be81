// Package stores persists kiln build history in SQLite. Builds and the
// project evaluations they ran are written by a HistoryRecorder attached
// to the evaluation broadcaster, and read back by `kiln history`.
package stores
