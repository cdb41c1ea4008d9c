package gfxgen

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// ProbeTimeout bounds the --version call used to recognise a working editor.
const ProbeTimeout = 5 * time.Second

//go:embed "editors.yaml"
var editorsYaml []byte

type editorSource struct {
	GOOS       string   `yaml:"goos"`
	Candidates []string `yaml:"candidates"`
}

var editorSources []editorSource

func init() {
	var err error
	editorSources, err = parseEditorSources(editorsYaml)
	if err != nil {
		panic(fmt.Errorf("parseEditorSources failed: %w", err))
	}
	if len(editorSources) == 0 {
		panic(fmt.Errorf("no editors found in %q", "editors.yaml"))
	}
}

func parseEditorSources(in []byte) (out []editorSource, err error) {
	if err = yaml.Unmarshal(in, &out); err != nil {
		return nil, err
	}
	for _, src := range out {
		if src.GOOS == "" {
			return nil, fmt.Errorf("editor source without goos: %v", src.Candidates)
		}
	}
	return out, nil
}

// EditorCandidates returns the editor commands to probe on goos, the
// platform specific ones first. A leading ~/ expands to the home directory.
func EditorCandidates(goos string) (cc [][]string) {
	home, _ := os.UserHomeDir()
	add := func(src editorSource) {
		for _, c := range src.Candidates {
			if strings.HasPrefix(c, "~/") {
				if home == "" {
					continue
				}
				c = filepath.Join(home, c[2:])
			}
			cc = append(cc, []string{c})
		}
	}
	for _, src := range editorSources {
		if src.GOOS == goos {
			add(src)
		}
	}
	for _, src := range editorSources {
		if src.GOOS == "any" {
			add(src)
		}
	}
	return cc
}

// ParseEditorCommand splits a user supplied editor command line with shell
// quoting rules, e.g. "flatpak run com.aseprite.Aseprite".
func ParseEditorCommand(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("shlex.Split %q failed: %w", s, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty editor command")
	}
	return args, nil
}

// FindEditor returns the first candidate that answers --version successfully.
func FindEditor(ctx context.Context, candidates [][]string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range candidates {
		if len(c) == 0 {
			continue
		}
		if err := probeEditor(ctx, c); err != nil {
			logger.Debug("editor candidate rejected", "command", c, "err", err)
			continue
		}
		return c, nil
	}
	return nil, ErrEditorNotFound
}

func probeEditor(ctx context.Context, command []string) error {
	if _, err := exec.LookPath(command[0]); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	args := append(append([]string{}, command[1:]...), "--version")
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.WaitDelay = time.Second
	return cmd.Run()
}
