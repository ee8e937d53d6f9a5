// Package release registers the deployment tasks: cluster prerequisites,
// image publishing, plugin installation and manifest application, plus the
// standalone local cluster reset.
package release
