// Package apply writes rendered manifests to a cluster with Server-Side Apply
// and deletes selected objects before they are reapplied.
package apply
