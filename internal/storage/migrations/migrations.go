// Package migrations embeds the SQL schema migrations, one directory per
// supported dialect.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
