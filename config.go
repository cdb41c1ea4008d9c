package gfxgen

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

const (
	// LibraryConfigFile sits in the graphics root and enables libraries.
	LibraryConfigFile = "Description.ini"
	// LibrariesDir holds one directory per library.
	LibrariesDir = "libraries"

	librariesSection = "Libraries"
)

// A Library is one entry of the Libraries section.
type Library struct {
	Name    string
	Enabled bool
}

// LibraryConfig is the typed form of the graphics root configuration.
type LibraryConfig struct {
	Libraries []Library
}

// Enabled returns the names of the enabled libraries in configuration order.
func (c LibraryConfig) Enabled() (names []string) {
	for _, l := range c.Libraries {
		if l.Enabled {
			names = append(names, l.Name)
		}
	}
	return names
}

// LoadLibraryConfig reads root/Description.ini. Library names keep their case.
// A value that is not a boolean disables the library with a warning.
// Any problem with root, the file or its Libraries section is ErrConfigMissing.
func LoadLibraryConfig(root string, logger *slog.Logger) (LibraryConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return LibraryConfig{}, fmt.Errorf("%w: graphics root %q is not a directory", ErrConfigMissing, root)
	}
	path := filepath.Join(root, LibraryConfigFile)
	if _, err := os.Stat(path); err != nil {
		return LibraryConfig{}, fmt.Errorf("%w: %v", ErrConfigMissing, err)
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return LibraryConfig{}, fmt.Errorf("%w: ini.Load %q failed: %v", ErrConfigMissing, path, err)
	}
	sec, err := cfg.GetSection(librariesSection)
	if err != nil {
		return LibraryConfig{}, fmt.Errorf("%w: [%s] section not found in %q", ErrConfigMissing, librariesSection, path)
	}

	c := LibraryConfig{}
	for _, k := range sec.Keys() {
		enabled, err := k.Bool()
		if err != nil {
			logger.Warn("library flag is not a boolean, treating as disabled", "library", k.Name(), "value", k.String())
		}
		c.Libraries = append(c.Libraries, Library{Name: k.Name(), Enabled: enabled})
	}
	return c, nil
}

// EnsureLibraryDirs creates root/libraries and a directory for every enabled library.
// It never removes anything.
func EnsureLibraryDirs(root string, c LibraryConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	base := filepath.Join(root, LibrariesDir)
	if err := os.MkdirAll(base, 0755); err != nil {
		return fmt.Errorf("os.MkdirAll %q failed: %w", base, err)
	}
	for _, name := range c.Enabled() {
		dir := filepath.Join(base, name)
		if _, err := os.Stat(dir); err == nil {
			logger.Debug("library directory exists", "library", name)
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("os.MkdirAll %q failed: %w", dir, err)
		}
		logger.Info("created library directory", "library", name, "dir", dir)
	}
	return nil
}
