// Package prompts embeds the agent instruction files and exports them as strings.
package prompts

import _ "embed"

//go:embed router.txt
var Router string

//go:embed inventory.txt
var Inventory string

//go:embed query.txt
var Query string

//go:embed jira.txt
var Jira string
