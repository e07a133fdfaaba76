// Package audit persists the governance trail: risk assessments keyed by
// commit ID, deployment outcomes, and bisect incident sessions.
//
// The store is a single SQLite file. Its deployment outcomes back
// [Store.FailureRate], which plugs into the risk scorer as a history
// provider. Session step traces can also be exported as parquet for
// offline analysis.
package audit
