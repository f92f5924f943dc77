package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	maxManifestBytes = 1 << 20
	fetchTimeout     = 30 * time.Second
	dirPermissions   = 0750
	filePermissions  = 0600
)

// Manifest describes a module published in a registry.
//
//	name: hallway-lights
//	driver: mqttbridge
//	version: 1.2.0
//	description: Lights bridged over MQTT
//	options:
//	  bridge: hallway
type Manifest struct {
	Name        string         `yaml:"name"`
	Driver      string         `yaml:"driver"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description,omitempty"`
	Options     map[string]any `yaml:"options,omitempty"`
}

// Fetcher retrieves module manifests from a registry.
type Fetcher interface {
	// Fetch downloads the manifest of name@version from source.
	Fetch(ctx context.Context, source, name, version string) (*Manifest, error)

	// Remove deletes anything Fetch stored for name.
	Remove(ctx context.Context, name string) error
}

// HTTPFetcher downloads manifests from {source}/{name}/{version}.yaml and
// keeps a copy in Dir.
type HTTPFetcher struct {
	Client *http.Client
	Dir    string
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher that stores manifests in dir.
func NewHTTPFetcher(dir string) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: fetchTimeout}, Dir: dir}
}

// Fetch downloads and parses a manifest.
func (f *HTTPFetcher) Fetch(ctx context.Context, source, name, version string) (*Manifest, error) {
	manifestURL, err := url.JoinPath(source, name, version+".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching manifest: registry returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrManifestTooLarge, maxManifestBytes)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if f.Dir != "" {
		if err := os.MkdirAll(f.Dir, dirPermissions); err != nil {
			return nil, fmt.Errorf("creating install directory: %w", err)
		}
		if err := os.WriteFile(f.path(name), data, filePermissions); err != nil {
			return nil, fmt.Errorf("storing manifest: %w", err)
		}
	}
	return &m, nil
}

// Remove deletes the stored manifest.
func (f *HTTPFetcher) Remove(_ context.Context, name string) error {
	if f.Dir == "" {
		return nil
	}
	if err := os.Remove(f.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing manifest: %w", err)
	}
	return nil
}

func (f *HTTPFetcher) path(name string) string {
	return filepath.Join(f.Dir, name+".yaml")
}
