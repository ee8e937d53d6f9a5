// Package pipeline registers the build-side tasks: code generation, checks,
// tests, compilation, manifest synthesis, image build and plugin packaging.
// It also keeps the registry of artifacts those tasks produce.
package pipeline
