package pipeline

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"
)

const (
	// PluginManifestAPIVersion is the krew plugin manifest API version
	PluginManifestAPIVersion = "krew.googlecontainertools.github.com/v1alpha2"

	// PluginManifestKind is the krew plugin manifest kind
	PluginManifestKind = "Plugin"
)

// PluginManifest is the installer manifest consumed by `kubectl krew install --manifest`
type PluginManifest struct {
	APIVersion string             `json:"apiVersion"`
	Kind       string             `json:"kind"`
	Metadata   PluginMetadata     `json:"metadata"`
	Spec       PluginManifestSpec `json:"spec"`
}

// PluginMetadata names the plugin
type PluginMetadata struct {
	Name string `json:"name"`
}

// PluginManifestSpec describes one plugin release
type PluginManifestSpec struct {
	Version          string           `json:"version"`
	Homepage         string           `json:"homepage,omitempty"`
	ShortDescription string           `json:"shortDescription"`
	Platforms        []PluginPlatform `json:"platforms"`
}

// PluginPlatform is the archive for one os/arch pair
type PluginPlatform struct {
	Selector PlatformSelector `json:"selector"`
	URI      string           `json:"uri"`
	SHA256   string           `json:"sha256"`
	Bin      string           `json:"bin"`
}

// PlatformSelector matches the installing machine
type PlatformSelector struct {
	MatchLabels map[string]string `json:"matchLabels"`
}

// ErrPluginChecksum is returned when a plugin archive does not match its installer manifest
var ErrPluginChecksum = errors.New("plugin archive checksum mismatch")

// ReadPluginManifest loads an installer manifest written by package-plugin
func ReadPluginManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &PluginManifest{}
	if err := yaml.UnmarshalStrict(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse plugin manifest %s: %w", path, err)
	}
	return m, nil
}

// VerifyPluginArchive checks that archive matches the sha256 the installer
// manifest records for the running platform.
func VerifyPluginArchive(manifestPath, archive string) error {
	m, err := ReadPluginManifest(manifestPath)
	if err != nil {
		return err
	}
	var want string
	for _, platform := range m.Spec.Platforms {
		labels := platform.Selector.MatchLabels
		if labels["os"] == runtime.GOOS && labels["arch"] == runtime.GOARCH {
			want = platform.SHA256
			break
		}
	}
	if want == "" {
		return fmt.Errorf("plugin manifest %s has no platform for %s/%s", manifestPath, runtime.GOOS, runtime.GOARCH)
	}

	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	got, err := digest.Canonical.FromReader(f)
	if err != nil {
		return fmt.Errorf("failed to checksum %s: %w", archive, err)
	}
	if got.Encoded() != want {
		return fmt.Errorf("%w: %s is %s, manifest has %s", ErrPluginChecksum, archive, got.Encoded(), want)
	}
	return nil
}

// packagePlugin archives the plugin binary, checksums the archive and writes
// an installer manifest carrying the version and checksum.
func (p *Pipeline) packagePlugin(ctx context.Context) error {
	logger := log.FromContext(ctx)

	archiveArtifact, err := p.artifacts.Get(ArtifactPluginArchive)
	if err != nil {
		return err
	}
	installerArtifact, err := p.artifacts.Get(ArtifactPluginInstaller)
	if err != nil {
		return err
	}

	binary := p.Path(p.project.Plugin.Binary)
	archive := p.Path(archiveArtifact.Path)
	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(archive), err)
	}

	sum, err := writeArchive(archive, binary)
	if err != nil {
		return fmt.Errorf("failed to archive plugin: %w", err)
	}

	uri := archive
	if abs, err := filepath.Abs(archive); err == nil {
		uri = abs
	}
	m := &PluginManifest{
		APIVersion: PluginManifestAPIVersion,
		Kind:       PluginManifestKind,
		Metadata:   PluginMetadata{Name: strings.TrimPrefix(p.project.Plugin.Name, "kubectl-")},
		Spec: PluginManifestSpec{
			Version:          p.snap.Version(),
			Homepage:         p.project.Plugin.Homepage,
			ShortDescription: p.project.Plugin.Short,
			Platforms: []PluginPlatform{{
				Selector: PlatformSelector{MatchLabels: map[string]string{
					"os":   runtime.GOOS,
					"arch": runtime.GOARCH,
				}},
				URI:    "file://" + filepath.ToSlash(uri),
				SHA256: sum.Encoded(),
				Bin:    filepath.Base(binary),
			}},
		},
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode plugin manifest: %w", err)
	}
	installer := p.Path(installerArtifact.Path)
	if err := os.WriteFile(installer, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plugin manifest: %w", err)
	}

	logger.Info("Packaged plugin", "archive", archive, "digest", sum.String(), "version", p.snap.Version())
	return nil
}

// writeArchive writes a gzip-compressed tarball holding binary at dest and
// returns the archive digest. Headers carry fixed ownership and timestamps so
// identical binaries give identical archives.
func writeArchive(dest, binary string) (digest.Digest, error) {
	src, err := os.Open(binary)
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}

	digester := digest.Canonical.Digester()
	gz := gzip.NewWriter(io.MultiWriter(out, digester.Hash()))
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:     filepath.Base(binary),
		Mode:     0o755,
		Size:     info.Size(),
		ModTime:  time.Unix(0, 0),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}

	writeErr := func() error {
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.Copy(tw, src); err != nil {
			return err
		}
		if err := tw.Close(); err != nil {
			return err
		}
		return gz.Close()
	}()
	if closeErr := out.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(dest)
		return "", writeErr
	}
	return digester.Digest(), nil
}
