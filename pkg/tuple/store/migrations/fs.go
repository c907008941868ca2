// Package migrations embeds the tuple store's postgres schema migrations
// for golang-migrate's iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
