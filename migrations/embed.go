// Package migrations embeds the sqitch plan deployed to each user's database.
package migrations

import "embed"

// FS holds sqitch.plan and deploy/*.sql.
//
//go:embed sqitch.plan deploy/*.sql
var FS embed.FS
