// Package graph provides the task dependency graph and its executor. Tasks are
// registered with their dependencies, checked for cycles as they are added,
// and run leaves first with each task executed at most once per invocation.
package graph
