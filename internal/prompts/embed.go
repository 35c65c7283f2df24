// Package prompts provides the leaf prompt templates with override support.
package prompts

import "embed"

//go:embed leaf/*.md
var embeddedFS embed.FS
