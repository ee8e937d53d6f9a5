/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Task execution metrics
	taskTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_task_total",
		Help: "Total number of task outcomes",
	}, []string{"task", "result"})

	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slipway_task_duration_seconds",
		Help:    "Duration of task actions",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5m
	}, []string{"task"})

	// Tool resolution metrics
	toolResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_tool_resolutions_total",
		Help: "Total number of tool lookups by final state",
	}, []string{"tool", "state"})

	// Cluster operation metrics
	applyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_apply_total",
		Help: "Total number of resource apply and delete operations",
	}, []string{"result", "mode", "gvk"})

	applyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slipway_apply_duration_seconds",
		Help:    "Duration of resource apply and delete operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"mode", "gvk"})
)

func init() {
	metrics.Registry.MustRegister(
		taskTotal,
		taskDuration,
		toolResolutions,
		applyTotal,
		applyDuration,
	)
}

// RecordTask records a task outcome
// result: "succeeded", "failed", "best_effort_failed" or "cached"
func RecordTask(task, result string, durationSeconds float64) {
	taskTotal.WithLabelValues(task, result).Inc()
	if result != "cached" {
		taskDuration.WithLabelValues(task).Observe(durationSeconds)
	}
}

// RecordToolResolution records how a tool lookup ended
func RecordToolResolution(tool, state string) {
	toolResolutions.WithLabelValues(tool, state).Inc()
}

// RecordApply records a cluster operation
// result: "success", "failure" or "absent"
// mode: "apply", "dry-run" or "delete"
// gvk: GroupVersionKind as string (e.g., "apps/v1/Deployment")
func RecordApply(result, mode, gvk string, durationSeconds float64) {
	applyTotal.WithLabelValues(result, mode, gvk).Inc()
	applyDuration.WithLabelValues(mode, gvk).Observe(durationSeconds)
}

// WriteTextfile dumps every registered metric to path in the Prometheus text format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, metrics.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
