// Package web holds the embedded front end served on the factory network.
package web

import "embed"

//go:embed index.html upload.html assets
var Files embed.FS
