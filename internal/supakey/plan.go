package supakey

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/aksanoble/hasu/internal/logger"
)

// Plan is a sqitch plan with its deploy scripts, in plan order.
type Plan struct {
	Text       string
	Migrations []Migration
}

// Names returns the migration names in order.
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.Migrations))
	for _, m := range p.Migrations {
		names = append(names, m.Name)
	}
	return names
}

// LoadPlan reads sqitch.plan and deploy/<name>.sql from fsys. Changes
// without a deploy script are skipped.
func LoadPlan(fsys fs.FS) (*Plan, error) {
	raw, err := fs.ReadFile(fsys, "sqitch.plan")
	if err != nil {
		return nil, fmt.Errorf("could not read sqitch.plan: %w", err)
	}

	plan := &Plan{Text: string(raw)}
	for _, line := range strings.Split(plan.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		name := strings.Fields(line)[0]

		sql, err := fs.ReadFile(fsys, path.Join("deploy", name+".sql"))
		if err != nil {
			logger.Warn("Could not load deploy file for migration", logger.F("migration", name), logger.F("error", err))
			continue
		}
		plan.Migrations = append(plan.Migrations, Migration{Name: name, SQL: strings.TrimSpace(string(sql))})
	}

	if len(plan.Migrations) == 0 {
		return nil, errors.New("no migrations found in sqitch plan")
	}
	return plan, nil
}
