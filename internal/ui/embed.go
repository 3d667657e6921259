package ui

import "embed"

// Dist embeds the static landing page served at the server root. A full
// dashboard build can be dropped into dist/ and will be picked up at
// compile time.
//
//go:embed all:dist
var Dist embed.FS
