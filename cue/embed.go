// Package cue provides the embedded CUE schema for slipway project files.
package cue

import "embed"

// SchemaFS contains the embedded project schema.
// The schema carries the hardcoded defaults every project starts from.
//
//go:embed schema/*.cue
var SchemaFS embed.FS

// SchemaFile is the path of the project schema within SchemaFS.
const SchemaFile = "schema/project.cue"

// ProjectDefinition is the CUE path of the project definition.
const ProjectDefinition = "#Project"
