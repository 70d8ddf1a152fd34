// Package migrations embeds the versioned postgres schema of the device cache.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql pair
//
//go:embed *.sql
var FS embed.FS
