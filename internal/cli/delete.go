package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [todo-id]",
	Aliases: []string{"rm"},
	Short:   "Delete a todo",
	Long: `Delete a todo by its id or a unique id prefix.

Examples:
  hasu delete 3f9a2c1b
  hasu rm 3f9a --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var deleteYes bool

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the confirmation prompt")
}

// confirm asks a yes/no question on stdin.
func confirm(question string) bool {
	fmt.Print(question + " [y/N]: ")
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	todo, err := a.resolveTodo(ctx, args[0])
	if err != nil {
		return err
	}

	if cfg.ConfirmDelete && !deleteYes {
		fmt.Printf("About to delete: \"%s\" (ID: %s)\n", todo.Text, shortID(todo.ID))
		if !confirm("Are you sure?") {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := a.backend.Todos().Delete(ctx, todo.ID); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	a.publishWidget(cmd.Context())

	fmt.Printf("🗑️  Deleted: \"%s\"\n", todo.Text)
	return nil
}
