// Package migrations embeds the certflow state schema so binaries can
// migrate without the SQL files on disk.
package migrations

import "embed"

// Certflow holds the goose migrations under certflow/.
//
//go:embed certflow/*.sql
var Certflow embed.FS

// CertflowDir is the directory inside Certflow goose reads from.
const CertflowDir = "certflow"
