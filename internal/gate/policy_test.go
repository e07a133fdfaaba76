package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/commitgate/internal/risk"
)

func TestExecPolicy(t *testing.T) {
	in := PolicyInput{CommitID: "abc", Risk: risk.Assessment{Level: risk.LevelHigh}}

	tests := []struct {
		name    string
		cmd     string
		want    PolicyDecision
		wantErr string
	}{
		{
			name: "allow",
			cmd:  `cat >/dev/null; echo '{"allow": true}'`,
			want: PolicyDecision{Allow: true},
		},
		{
			name: "reads input",
			cmd:  `if grep -q '"level":"high"'; then echo '{"allow":false,"reasons":["high risk"]}'; else echo '{"allow":true}'; fi`,
			want: PolicyDecision{Allow: false, Reasons: []string{"high risk"}},
		},
		{
			name:    "exit status",
			cmd:     `cat >/dev/null; echo nope >&2; exit 3`,
			wantErr: "policy command exited 3: nope",
		},
		{
			name:    "bad output",
			cmd:     `cat >/dev/null; echo not-json`,
			wantErr: "parsing policy decision",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&ExecPolicy{Command: tt.cmd}).Evaluate(context.Background(), in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanMessage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"feat: x\n", "feat: x"},
		{"```\nfeat: x\n```", "feat: x"},
		{"```text\nfeat: x\n\nbody\n```\n", "feat: x\n\nbody"},
	}
	for _, tt := range tests {
		if got := cleanMessage(tt.in); got != tt.want {
			t.Errorf("cleanMessage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildChunkPrompt(t *testing.T) {
	one := BuildChunkPrompt("DIFF", []string{"a.go"}, 0, 1)
	assert.Contains(t, one, "Files: a.go")
	assert.Contains(t, one, "--- BEGIN DIFF ---\nDIFF\n--- END DIFF ---")
	assert.NotContains(t, one, "part")

	part := BuildChunkPrompt("DIFF", nil, 1, 3)
	assert.Contains(t, part, "part 2 of 3")
	assert.Contains(t, SystemPrompt(), "feat, fix, sec")
}
