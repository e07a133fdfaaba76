package gate

import (
	"fmt"
	"strings"

	"github.com/dshills/commitgate/internal/metadata"
)

const systemPrompt = `You write commit messages for a regulated healthcare codebase.

Rules:
1. Describe only the changes shown in the diff.
2. The first line must be "<type>(<scope>): <summary>", at most 72 characters.
   Allowed types: %s.
3. After a blank line, give a short body explaining what changed.
4. End with these trailers, one per line, choosing the value that fits:
   PHI-Impact: None | Indirect | Direct
   Clinical-Safety: None | Low | Medium | High | Critical
   Financial-Impact: None | Low | Medium | High
   Regulation: None or a comma-separated list of frameworks (HIPAA, SOX, FDA, SOC2, GDPR)
   Compliance-Codes: framework-qualified codes such as HIPAA:164.312(b), or omit the line
   Service: the affected service name
5. Never invent a compliance code. If unsure, omit Compliance-Codes.
6. Some values in the diff are replaced by [REDACTED:...] markers. Do not guess what they were.

Respond with ONLY the commit message. No markdown, no explanation, no preamble.`

const combineSystemPrompt = `You merge partial commit-message drafts, each written for one part of a
large change, into a single commit message that follows the same rules as
the drafts: one "<type>(<scope>): <summary>" header of at most 72
characters, a short body, and one set of trailers. For each trailer keep
the highest impact any draft declares and the union of compliance codes.

Respond with ONLY the commit message.`

// SystemPrompt returns the system prompt for message generation.
func SystemPrompt() string {
	return fmt.Sprintf(systemPrompt, strings.Join(metadata.Types, ", "))
}

// BuildChunkPrompt builds the user prompt for one sanitized chunk.
func BuildChunkPrompt(text string, files []string, index, total int) string {
	var b strings.Builder
	if total > 1 {
		fmt.Fprintf(&b, "This is part %d of %d of a larger change. Write a draft for this part only.\n", index+1, total)
	} else {
		b.WriteString("Write the commit message for the following change.\n")
	}
	if len(files) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(files, ", "))
	}
	b.WriteString("\n--- BEGIN DIFF ---\n")
	b.WriteString(text)
	b.WriteString("\n--- END DIFF ---\n")
	return b.String()
}

// BuildCombinePrompt builds the prompt that merges per-chunk drafts.
func BuildCombinePrompt(drafts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge these %d drafts into one commit message.\n", len(drafts))
	for i, d := range drafts {
		fmt.Fprintf(&b, "\n--- DRAFT %d ---\n%s\n", i+1, strings.TrimSpace(d))
	}
	return b.String()
}

// cleanMessage strips code fences and surrounding blank lines.
func cleanMessage(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		end := len(lines)
		if end > 1 && strings.TrimSpace(lines[end-1]) == "```" {
			end--
		}
		content = strings.TrimSpace(strings.Join(lines[1:end], "\n"))
	}
	return content
}
