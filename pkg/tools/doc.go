// Package tools locates the external generator and cluster tools the pipeline
// invokes. A tool is taken from PATH when present, otherwise from a pinned,
// versioned binary in the tools directory, installing it on first use.
package tools
