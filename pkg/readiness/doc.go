// Package readiness waits for applied workloads to report themselves ready.
package readiness
