// Package prompts provides externalized prompt templates with override support.
package prompts

import "embed"

//go:embed templates/single_qa/*.txt templates/aggregate_qa/*.txt
var embeddedFS embed.FS
