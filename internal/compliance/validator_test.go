package compliance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/commitgate/internal/metadata"
)

func xCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := NewCatalog("test-1",
		&Framework{
			Name:        "X",
			Title:       "Framework X",
			ImpactField: metadata.KeyPHIImpact,
			Paths:       []string{"services/x/**"},
			Codes:       []Code{{Code: "X-100"}, {Code: "X-150"}, {Code: "X-200"}},
		},
		&Framework{
			Name:  "Y",
			Title: "Framework Y",
			Codes: []Code{{Code: "Y-1"}, {Code: "X-999"}},
		},
	)
	require.NoError(t, err)
	return cat
}

func TestValidate_NotInCatalog(t *testing.T) {
	v := NewValidator(xCatalog(t))
	res := v.Validate([]string{"X-999"}, "X")

	require.Len(t, res.Invalid, 1)
	assert.Empty(t, res.Valid)
	assert.Equal(t, ReasonNotInCatalog, res.Invalid[0].Reason)
	assert.Equal(t, "listed under Y", res.Invalid[0].Detail)
	assert.False(t, res.OK())
}

func TestValidate_Reasons(t *testing.T) {
	v := NewValidator(xCatalog(t))

	res := v.Validate([]string{"X-100", " X-200 ", "", "x-100", "X-100 "}, "X")
	assert.Len(t, res.Valid, 3)
	require.Len(t, res.Invalid, 2)
	assert.Equal(t, ReasonEmptyCode, res.Invalid[0].Reason)
	assert.Equal(t, ReasonNotInCatalog, res.Invalid[1].Reason, "lookup is case sensitive")

	res = v.Validate([]string{"X-100"}, "Z")
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, ReasonUnknownFramework, res.Invalid[0].Reason)
	assert.Equal(t, "listed under X", res.Invalid[0].Detail)
}

func TestValidate_Soundness(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	v := NewValidator(cat)

	for _, name := range cat.Names() {
		fw := cat.Frameworks[name]
		for _, c := range fw.Codes {
			res := v.Validate([]string{c.Code}, name)
			assert.True(t, res.OK(), "%s:%s should be valid", name, c.Code)
		}
		for _, other := range cat.Names() {
			if other == name {
				continue
			}
			for _, c := range cat.Frameworks[other].Codes {
				if _, listed := cat.Lookup(name, c.Code); listed {
					continue
				}
				res := v.Validate([]string{c.Code}, name)
				assert.False(t, res.OK(), "%s code %s accepted under %s", other, c.Code, name)
			}
		}
	}
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"FDA", "GDPR", "HIPAA", "SOC2", "SOX"}, cat.Names())
	c, ok := cat.Lookup("HIPAA", "164.312(a)(1)")
	require.True(t, ok)
	assert.Equal(t, "Access control", c.Description)
	assert.Equal(t, "HIPAA", c.Framework)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"no version":   "frameworks:\n  A:\n    title: a\n    codes: [{code: A-1}]\n",
		"no codes":     "version: v\nframeworks:\n  A:\n    title: a\n",
		"unknown key":  "version: v\nbogus: 1\nframeworks:\n  A:\n    title: a\n    codes: [{code: A-1}]\n",
		"duplicate":    "version: v\nframeworks:\n  A:\n    title: a\n    codes: [{code: A-1}, {code: A-1}]\n",
		"bad impact":   "version: v\nframeworks:\n  A:\n    title: a\n    impact_field: Mood\n    codes: [{code: A-1}]\n",
		"no framework": "version: v\nframeworks: {}\n",
	}
	for name, y := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseCatalog([]byte(y))
			assert.Error(t, err)
		})
	}
}

func TestCheckConsistency(t *testing.T) {
	v := NewValidator(xCatalog(t))

	md := metadata.CommitMetadata{ChangedPaths: []string{"services/x/handler.go", "README.md"}}
	issues := v.CheckConsistency(md)
	require.Len(t, issues, 2)
	assert.Equal(t, IssueMissingCode, issues[0].Kind)
	assert.Equal(t, []string{"services/x/handler.go"}, issues[0].Paths)
	assert.Equal(t, IssueMissingImpact, issues[1].Kind)

	md.DeclaredCodes = []metadata.DeclaredCode{{Framework: "X", Code: "X-150"}}
	md.Risk.PHIImpact = "none"
	issues = v.CheckConsistency(md)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueImpactNone, issues[0].Kind)

	md.Risk.PHIImpact = "direct"
	assert.Empty(t, v.CheckConsistency(md))

	assert.Empty(t, v.CheckConsistency(metadata.CommitMetadata{ChangedPaths: []string{"docs/a.md"}}))
}

func TestEvaluate(t *testing.T) {
	v := NewValidator(xCatalog(t))
	md := metadata.Parse("feat(x): add endpoint\n\nCompliance-Codes: X:X-100, X:X-999, Y:Y-1\nPHI-Impact: Indirect\n")
	md.ChangedPaths = []string{"services/x/a.go"}

	ev := v.Evaluate(md)
	assert.Equal(t, "test-1", ev.CatalogVersion)
	require.Len(t, ev.Results, 2)
	assert.Equal(t, "X", ev.Results[0].Framework)
	assert.Len(t, ev.Results[0].Valid, 1)
	assert.Len(t, ev.Results[0].Invalid, 1)
	assert.True(t, ev.Results[1].OK())
	assert.Empty(t, ev.Issues)
	assert.False(t, ev.OK())

	err := ev.Err("c0ffee")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "c0ffee", ve.CommitID)
	assert.Contains(t, err.Error(), "X:X-999 not in catalog")
}

func TestSwap_Concurrent(t *testing.T) {
	first := xCatalog(t)
	second, err := DefaultCatalog()
	require.NoError(t, err)
	v := NewValidator(first)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				res := v.Validate([]string{"X-100"}, "X")
				// Either catalog is acceptable, but never a mix.
				if res.OK() {
					assert.Empty(t, res.Invalid)
				} else {
					assert.Equal(t, ReasonUnknownFramework, res.Invalid[0].Reason)
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			v.Swap(second)
		} else {
			v.Swap(first)
		}
	}
	wg.Wait()
}

const xYAML = `version: "%s"
frameworks:
  X:
    title: Framework X
    codes:
      - code: X-100
`

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(xYAML, "v1")), 0o644))
	cat, err := LoadCatalogFile(path)
	require.NoError(t, err)
	v := NewValidator(cat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, v, zerolog.Nop()) }()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(xYAML, "v2")), 0o644))
	assert.Eventually(t, func() bool { return v.Catalog().Version == "v2" }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("version: [broken"), 0o644))
	time.Sleep(2 * reloadDelay)
	assert.Equal(t, "v2", v.Catalog().Version, "a bad file must not replace the catalog")

	cancel()
	require.NoError(t, <-done)
}
