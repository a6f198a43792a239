package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  `Create, list, and manage projects for organizing todos.`,
}

var projectNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a new project",
	Long: `Create a new project.

Colors: red, blue, green, yellow, purple, pink, indigo, gray.

Examples:
  hasu project new "Work"
  hasu project new "Personal" --color pink --favorite`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProjectNew,
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all projects with open todo counts",
	RunE:    runProjectList,
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename [project] [new-name]",
	Short: "Rename a project",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runProjectRename,
}

var projectColorCmd = &cobra.Command{
	Use:   "color [project] [color]",
	Short: "Change a project's color",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectColor,
}

var projectFavoriteCmd = &cobra.Command{
	Use:   "favorite [project]",
	Short: "Toggle a project's favorite flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectFavorite,
}

var projectDeleteCmd = &cobra.Command{
	Use:     "delete [project]",
	Aliases: []string{"rm"},
	Short:   "Delete a project and its todos",
	Args:    cobra.ExactArgs(1),
	RunE:    runProjectDelete,
}

var (
	projectColor    string
	projectFavorite bool
)

func init() {
	projectNewCmd.Flags().StringVarP(&projectColor, "color", "c", string(model.ColorBlue), "Project color")
	projectNewCmd.Flags().BoolVarP(&projectFavorite, "favorite", "f", false, "Mark as favorite")
	projectDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the confirmation prompt")

	projectCmd.AddCommand(projectNewCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRenameCmd)
	projectCmd.AddCommand(projectColorCmd)
	projectCmd.AddCommand(projectFavoriteCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}

func parseColorFlag(s string) (model.Color, error) {
	c, ok := model.ParseColor(s)
	if !ok {
		return "", fmt.Errorf("unknown color %q", s)
	}
	return c, nil
}

func runProjectNew(cmd *cobra.Command, args []string) error {
	color, err := parseColorFlag(projectColor)
	if err != nil {
		return err
	}

	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	p, err := a.backend.Projects().Create(ctx, model.Project{
		Name:       strings.Join(args, " "),
		Color:      color,
		IsFavorite: projectFavorite,
	})
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	fmt.Printf("✓ Created project: %s (ID: %s)\n", p.Name, shortID(p.ID))
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	projects, err := a.backend.Projects().ListWithCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects yet. Create one with: hasu project new \"Name\"")
		return nil
	}

	writeProjectList(os.Stdout, model.GroupProjects(projects))
	return nil
}

// writeProjectList prints the Inbox, then favorites, then the rest.
func writeProjectList(w io.Writer, g model.ProjectGroups) {
	row := func(marker string, p model.Project) {
		fmt.Fprintf(w, "%s %-8s  %-24s  %-7s  %d\n", marker, shortID(p.ID), p.Name, p.Color, p.TodoCount)
	}

	fmt.Fprintln(w)
	if g.Inbox != nil {
		row("📥", *g.Inbox)
	}
	if len(g.Favorites) > 0 {
		fmt.Fprintln(w, "\nFavorites")
		for _, p := range g.Favorites {
			row("★ ", p)
		}
	}
	if len(g.Regular) > 0 {
		fmt.Fprintln(w, "\nProjects")
		for _, p := range g.Regular {
			row("  ", p)
		}
	}
	fmt.Fprintln(w)
}

// withProject connects, resolves ref and runs fn on it.
func withProject(cmd *cobra.Command, ref string, fn func(a *app, p *model.Project) error) error {
	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	projects, err := a.backend.Projects().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}
	p, err := findProject(projects, ref)
	if err != nil {
		return err
	}
	return fn(a, p)
}

func updateProject(cmd *cobra.Command, a *app, p *model.Project, patch store.ProjectPatch) (*model.Project, error) {
	ctx, cancel := timeout(cmd.Context())
	defer cancel()
	updated, err := a.backend.Projects().Update(ctx, p.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return updated, nil
}

func runProjectRename(cmd *cobra.Command, args []string) error {
	name := strings.Join(args[1:], " ")
	return withProject(cmd, args[0], func(a *app, p *model.Project) error {
		updated, err := updateProject(cmd, a, p, store.ProjectPatch{Name: &name})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Renamed %s to %s\n", p.Name, updated.Name)
		return nil
	})
}

func runProjectColor(cmd *cobra.Command, args []string) error {
	color, err := parseColorFlag(args[1])
	if err != nil {
		return err
	}
	return withProject(cmd, args[0], func(a *app, p *model.Project) error {
		if _, err := updateProject(cmd, a, p, store.ProjectPatch{Color: &color}); err != nil {
			return err
		}
		fmt.Printf("✓ %s is now %s\n", p.Name, color)
		return nil
	})
}

func runProjectFavorite(cmd *cobra.Command, args []string) error {
	return withProject(cmd, args[0], func(a *app, p *model.Project) error {
		fav := !p.IsFavorite
		if _, err := updateProject(cmd, a, p, store.ProjectPatch{IsFavorite: &fav}); err != nil {
			return err
		}
		if fav {
			fmt.Printf("★ %s added to favorites\n", p.Name)
		} else {
			fmt.Printf("☆ %s removed from favorites\n", p.Name)
		}
		return nil
	})
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	return withProject(cmd, args[0], func(a *app, p *model.Project) error {
		if p.IsInbox {
			return store.ErrInboxProtected
		}
		if cfg.ConfirmDelete && !deleteYes {
			fmt.Printf("About to delete project %q and all its todos\n", p.Name)
			if !confirm("Are you sure?") {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		ctx, cancel := timeout(cmd.Context())
		defer cancel()
		if err := a.backend.Projects().Delete(ctx, *p); err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		a.publishWidget(cmd.Context())

		fmt.Printf("🗑️  Deleted project: %s\n", p.Name)
		return nil
	})
}
