package module

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultMaxURLLength bounds registry source URLs.
const DefaultMaxURLLength = 2048

// ValidateSource checks that source is an absolute http(s) URL within the
// configured length and, when an allow-list is set, on an allowed host.
func (m *Manager) ValidateSource(source string) error {
	maxLen := m.opts.Registry.MaxURLLength
	if maxLen <= 0 {
		maxLen = DefaultMaxURLLength
	}
	if source == "" || len(source) > maxLen {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidSource, maxLen)
	}
	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidSource)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	if allowed := m.opts.Registry.AllowedHosts; len(allowed) > 0 && !slices.Contains(allowed, u.Hostname()) {
		return fmt.Errorf("%w: host %s not allowed", ErrInvalidSource, u.Hostname())
	}
	return nil
}

// ValidVersion reports whether version is a semantic version, with or
// without a leading "v".
func ValidVersion(version string) bool {
	if version == "" {
		return false
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return semver.IsValid(version)
}

// InstallFromRegistry fetches, records and loads a module. On any failure
// nothing is recorded and nothing is loaded.
func (m *Manager) InstallFromRegistry(ctx context.Context, source, name, version string) error {
	if err := m.ValidateSource(source); err != nil {
		return err
	}
	if !ValidVersion(version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if m.opts.Fetcher == nil || m.opts.Metadata == nil {
		return ErrNoFetcher
	}
	if _, loaded := m.Get(name); loaded {
		return fmt.Errorf("%w: %s", ErrModuleExists, name)
	}

	manifest, err := m.opts.Fetcher.Fetch(ctx, source, name, version)
	if err != nil {
		return fmt.Errorf("installing %s@%s: %w", name, version, err)
	}
	if err := m.checkManifest(manifest, name, version); err != nil {
		m.removeFetched(ctx, name)
		return err
	}

	md := &Metadata{
		Name:    name,
		Driver:  manifest.Driver,
		Version: version,
		Source:  source,
		Options: manifest.Options,
	}
	if err := m.opts.Metadata.Save(ctx, md); err != nil {
		m.removeFetched(ctx, name)
		return fmt.Errorf("installing %s@%s: %w", name, version, err)
	}

	if err := m.Load(ctx, name, manifest.Driver, version, manifest.Options); err != nil {
		if derr := m.opts.Metadata.Delete(ctx, name); derr != nil {
			m.logger.Error("rolling back module metadata failed", "module", name, "error", derr)
		}
		m.removeFetched(ctx, name)
		return fmt.Errorf("installing %s@%s: %w", name, version, err)
	}

	m.logger.Info("module installed", "module", name, "version", version, "source", source)
	return nil
}

func (m *Manager) checkManifest(mf *Manifest, name, version string) error {
	if mf == nil {
		return fmt.Errorf("%w: empty manifest", ErrManifestMismatch)
	}
	if mf.Name != "" && mf.Name != name {
		return fmt.Errorf("%w: manifest names %q", ErrManifestMismatch, mf.Name)
	}
	if mf.Version != "" && semver.Compare(canonical(mf.Version), canonical(version)) != 0 {
		return fmt.Errorf("%w: manifest version %q", ErrManifestMismatch, mf.Version)
	}
	if _, ok := m.catalog.Lookup(mf.Driver); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDriver, mf.Driver)
	}
	return nil
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

func (m *Manager) removeFetched(ctx context.Context, name string) {
	if err := m.opts.Fetcher.Remove(ctx, name); err != nil {
		m.logger.Warn("removing fetched module failed", "module", name, "error", err)
	}
}

// Uninstall unloads a registry-installed module and deletes its files and
// metadata.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	if m.opts.Fetcher == nil || m.opts.Metadata == nil {
		return ErrNoFetcher
	}
	if _, err := m.opts.Metadata.Get(ctx, name); err != nil {
		return err
	}

	var errs []error
	if err := m.Unload(ctx, name); err != nil && !errors.Is(err, ErrModuleNotFound) {
		errs = append(errs, err)
	}
	if err := m.opts.Fetcher.Remove(ctx, name); err != nil {
		errs = append(errs, err)
	}
	if err := m.opts.Metadata.Delete(ctx, name); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("uninstall incomplete", "module", name, "error", err)
		return err
	}
	m.logger.Info("module uninstalled", "module", name)
	return nil
}

// LoadInstalled loads every module recorded in the metadata store.
// Failures are logged and skipped.
func (m *Manager) LoadInstalled(ctx context.Context) int {
	if m.opts.Metadata == nil {
		return 0
	}
	installed, err := m.opts.Metadata.List(ctx)
	if err != nil {
		m.logger.Error("listing installed modules failed", "error", err)
		return 0
	}
	loaded := 0
	for _, md := range installed {
		if err := m.Load(ctx, md.Name, md.Driver, md.Version, md.Options); err != nil {
			m.logger.Warn("skipping installed module", "module", md.Name, "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

// Installed returns the registry-installed modules.
func (m *Manager) Installed(ctx context.Context) ([]Metadata, error) {
	if m.opts.Metadata == nil {
		return nil, nil
	}
	return m.opts.Metadata.List(ctx)
}
