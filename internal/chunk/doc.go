// Package chunk partitions a sanitized diff into pieces that fit a model's
// token budget.
//
// Token counts are estimated from byte length with a per-model
// characters-per-token ratio. Chunks are byte ranges over the original
// diff, so concatenating them reproduces it exactly, and a range never
// starts or ends inside a hunk.
package chunk
