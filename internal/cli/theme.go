package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/session"
)

var themeCmd = &cobra.Command{
	Use:       "theme [light|dark]",
	Short:     "Show or set the color theme",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(session.ThemeLight), string(session.ThemeDark)},
	RunE:      runTheme,
}

func runTheme(cmd *cobra.Command, args []string) error {
	st := session.Open(cfg.SessionFile, cfg.SessionPassword)
	if len(args) == 0 {
		fmt.Printf("Theme: %s\n", st.Theme())
		return nil
	}
	if err := st.SetTheme(session.Theme(args[0])); err != nil {
		return err
	}
	fmt.Printf("✓ Theme set to %s\n", args[0])
	return nil
}
