// Package manifest reads and writes multi-document YAML bundles of Kubernetes
// objects and answers questions about their contents.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

var (
	// ErrEmptyBundle is returned when a bundle holds no objects
	ErrEmptyBundle = errors.New("manifest bundle is empty")

	// ErrImageNotSubstituted is returned when no container in the bundle uses the expected image
	ErrImageNotSubstituted = errors.New("manager image was not substituted")
)

// Decode reads every YAML or JSON document from r. Empty documents are skipped
// and List objects are flattened into their items.
func Decode(r io.Reader) ([]*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(r, 4096)

	var objs []*unstructured.Unstructured
	for doc := 1; ; doc++ {
		var raw map[string]interface{}
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode document %d: %w", doc, err)
		}
		if len(raw) == 0 {
			continue
		}

		obj := &unstructured.Unstructured{Object: raw}
		if obj.IsList() {
			list, err := obj.ToList()
			if err != nil {
				return nil, fmt.Errorf("failed to read list in document %d: %w", doc, err)
			}
			for i := range list.Items {
				objs = append(objs, &list.Items[i])
			}
			continue
		}

		if obj.GetKind() == "" || obj.GetAPIVersion() == "" {
			return nil, fmt.Errorf("document %d is missing apiVersion or kind", doc)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// DecodeBytes is Decode over an in-memory bundle
func DecodeBytes(data []byte) ([]*unstructured.Unstructured, error) {
	return Decode(bytes.NewReader(data))
}

// ReadFile decodes the bundle stored at path
func ReadFile(path string) ([]*unstructured.Unstructured, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Encode writes objects as YAML documents separated by "---"
func Encode(w io.Writer, objs []*unstructured.Unstructured) error {
	for i, obj := range objs {
		data, err := yaml.Marshal(obj.Object)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		if i > 0 {
			if _, err := io.WriteString(w, "---\n"); err != nil {
				return err
			}
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile encodes the bundle to path
func WriteFile(path string, objs []*unstructured.Unstructured) error {
	var buf bytes.Buffer
	if err := Encode(&buf, objs); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Filter returns the objects of exactly the given GroupVersionKind, in order
func Filter(objs []*unstructured.Unstructured, gvk schema.GroupVersionKind) []*unstructured.Unstructured {
	var out []*unstructured.Unstructured
	for _, obj := range objs {
		if obj.GroupVersionKind() == gvk {
			out = append(out, obj)
		}
	}
	return out
}

// podSpecPaths are where workload kinds keep their pod spec
var podSpecPaths = map[string][]string{
	"Pod":         {"spec"},
	"Deployment":  {"spec", "template", "spec"},
	"StatefulSet": {"spec", "template", "spec"},
	"DaemonSet":   {"spec", "template", "spec"},
	"ReplicaSet":  {"spec", "template", "spec"},
	"Job":         {"spec", "template", "spec"},
	"CronJob":     {"spec", "jobTemplate", "spec", "template", "spec"},
}

// Images returns the sorted, de-duplicated container images referenced by
// workload objects in the bundle
func Images(objs []*unstructured.Unstructured) []string {
	seen := make(map[string]bool)
	for _, obj := range objs {
		path, ok := podSpecPaths[obj.GetKind()]
		if !ok {
			continue
		}
		for _, field := range []string{"initContainers", "containers"} {
			containers, found, err := unstructured.NestedSlice(obj.Object, append(slices.Clone(path), field)...)
			if err != nil || !found {
				continue
			}
			for _, c := range containers {
				container, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				if image, _, _ := unstructured.NestedString(container, "image"); image != "" {
					seen[image] = true
				}
			}
		}
	}

	images := make([]string, 0, len(seen))
	for image := range seen {
		images = append(images, image)
	}
	slices.Sort(images)
	return images
}

// Validate checks that a synthesized bundle is usable: it must hold objects
// and at least one container must run image.
func Validate(objs []*unstructured.Unstructured, image string) error {
	if len(objs) == 0 {
		return ErrEmptyBundle
	}
	images := Images(objs)
	if !slices.Contains(images, image) {
		return fmt.Errorf("%w: want %q, bundle references %v", ErrImageNotSubstituted, image, images)
	}
	return nil
}
