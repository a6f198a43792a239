package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/store"
)

var doneCmd = &cobra.Command{
	Use:   "done [todo-id]",
	Short: "Mark a todo as done",
	Long: `Mark a todo as completed. A unique id prefix is enough.

Examples:
  hasu done 3f9a2c1b
  hasu done 3f9a --undo`,
	Args: cobra.ExactArgs(1),
	RunE: runDone,
}

var doneUndo bool

func init() {
	doneCmd.Flags().BoolVar(&doneUndo, "undo", false, "Mark todo as not done")
}

func runDone(cmd *cobra.Command, args []string) error {
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

	done := !doneUndo
	if _, err := a.backend.Todos().Update(ctx, todo.ID, store.SetCompleted(done)); err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	a.publishWidget(cmd.Context())

	if done {
		fmt.Printf("✓ Completed: \"%s\"\n", todo.Text)
	} else {
		fmt.Printf("○ Reopened: \"%s\"\n", todo.Text)
	}
	return nil
}
