// Package bisect localizes the commit that introduced a regression.
//
// An [Engine] runs a binary search over an ordered commit range, asking an
// [Oracle] whether each probed commit is good or bad. When a [RiskHint] is
// configured, the probe is chosen among the middle half of the unknown
// range, so riskier commits are tested earlier without losing the
// logarithmic bound. Oracle failures mark a candidate skipped; repeated
// failures end the search.
//
// Every call is recorded as a [Step] in the returned [Session], which is
// the incident artifact persisted by the audit store.
package bisect
