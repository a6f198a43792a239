package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/view"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search todo text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	query := strings.Join(args, " ")
	todos, err := a.backend.Todos().Search(ctx, a.sess.UserID, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(todos) == 0 {
		fmt.Printf("No todos match %q\n", query)
		return nil
	}
	printSections(fmt.Sprintf("Search: %s", query), []view.Section{{Todos: todos}}, time.Now())
	return nil
}
