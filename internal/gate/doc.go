// Package gate runs a change through the full governance pipeline.
//
// A change is sanitized first; a blocked diff stops there and nothing is
// sent to a generation backend. Otherwise the redacted diff is chunked to
// the model's token budget and a commit message is drafted per chunk when
// the change has none. The message is parsed and linted, its compliance
// codes are checked against the catalog, and the change is scored and
// mapped to a deployment strategy. The assessment is recorded in the
// audit store and, when configured, handed to an external policy
// evaluator.
package gate
