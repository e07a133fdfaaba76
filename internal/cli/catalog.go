package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/output"
	"github.com/dshills/commitgate/internal/patterns"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the active pattern and compliance code catalogs",
}

var catalogPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List detection patterns and sensitive file names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadPatterns(cfg)
		if err != nil {
			return fail(err)
		}
		m, err := patterns.Compile(cat)
		if err != nil {
			return fail(err)
		}
		if cfg.Format == "json" {
			return emit(cat, true)
		}

		ui.Info("Pattern catalog %s: %d pattern(s)", m.Version(), len(m.Patterns()))
		table := ui.Table([]string{"ID", "Category", "Severity", "Action", "Description"})
		for _, p := range m.Patterns() {
			_ = table.Append([]string{p.ID, string(p.Category), output.SeverityColor(p.Severity), string(patterns.ActionFor(p.Severity)), p.Description})
		}
		_ = table.Render()
		if files := m.SensitiveFiles(); len(files) > 0 {
			ui.Info("Sensitive files: %s", strings.Join(files, ", "))
		}
		return nil
	},
}

var catalogCodesCmd = &cobra.Command{
	Use:   "codes",
	Short: "List regulatory frameworks and their compliance codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCodes(cfg)
		if err != nil {
			return fail(err)
		}
		if cfg.Format == "json" {
			return emit(cat, true)
		}

		ui.Info("Code catalog %s: %d framework(s)", cat.Version, len(cat.Frameworks))
		table := ui.Table([]string{"Framework", "Code", "Impact field", "Description"})
		for _, name := range cat.Names() {
			fw := cat.Frameworks[name]
			for _, c := range fw.Codes {
				_ = table.Append([]string{name, c.Code, fw.ImpactField, c.Description})
			}
		}
		_ = table.Render()
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogPatternsCmd)
	catalogCmd.AddCommand(catalogCodesCmd)
}
