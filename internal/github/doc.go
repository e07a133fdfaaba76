// Package github is a minimal GitHub REST client for gating pull requests.
//
// It fetches a pull request's unified diff and file list so the diff can
// run through the sanitizer like a local change, and posts the gate
// summary back as a conversation comment. The token comes from
// GITHUB_TOKEN only.
package github
