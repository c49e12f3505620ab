package flow

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/aristath/agman/internal/faults"
)

//go:embed defaults/flows/*.yaml defaults/prompts/*.md defaults/commands/*.yaml
var bundled embed.FS

// DefaultDirs names where each kind of bundled definition is installed.
type DefaultDirs struct {
	Flows    string
	Prompts  string
	Commands string
}

// InstallDefaults writes the bundled flows, prompt templates and stored
// commands. Existing files are kept unless force is set. It returns the
// paths it wrote.
func InstallDefaults(dirs DefaultDirs, force bool) ([]string, error) {
	var written []string
	for _, set := range []struct {
		src, dst string
	}{
		{"defaults/flows", dirs.Flows},
		{"defaults/prompts", dirs.Prompts},
		{"defaults/commands", dirs.Commands},
	} {
		if set.dst == "" {
			continue
		}
		if err := os.MkdirAll(set.dst, 0755); err != nil {
			return written, fmt.Errorf("failed to create %s: %w", set.dst, err)
		}
		entries, err := fs.ReadDir(bundled, set.src)
		if err != nil {
			return written, fmt.Errorf("failed to read bundled %s: %w", set.src, err)
		}
		for _, e := range entries {
			target := filepath.Join(set.dst, e.Name())
			if !force {
				if _, err := os.Stat(target); err == nil {
					continue
				}
			}
			data, err := bundled.ReadFile(path.Join(set.src, e.Name()))
			if err != nil {
				return written, fmt.Errorf("failed to read bundled %s: %w", e.Name(), err)
			}
			if err := os.WriteFile(target, data, 0644); err != nil {
				return written, fmt.Errorf("failed to write %s: %w", target, err)
			}
			written = append(written, target)
		}
	}
	return written, nil
}

// DefaultFlow returns a bundled flow by name.
func DefaultFlow(name string) (*Flow, error) {
	data, err := bundled.ReadFile("defaults/flows/" + name + ".yaml")
	if err != nil {
		return nil, faults.Load("load default flow "+name, err)
	}
	return Parse(data)
}
