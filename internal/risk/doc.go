// Package risk scores the operational risk of a change and maps it to a
// deployment strategy.
//
// The base score is a weighted sum of independent factors (path tier,
// declared PHI, clinical and financial impact, and change shape) whose
// weights total 100. A [HistoryProvider] may blend in the observed
// failure rate of similar changes; without one the factor is recorded as
// omitted and the base score stands.
package risk
