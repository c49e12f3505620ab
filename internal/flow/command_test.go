package flow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/agman/internal/faults"
)

func TestInstallDefaults(t *testing.T) {
	root := t.TempDir()
	dirs := DefaultDirs{
		Flows:    filepath.Join(root, "flows"),
		Prompts:  filepath.Join(root, "prompts"),
		Commands: filepath.Join(root, "commands"),
	}

	written, err := InstallDefaults(dirs, false)
	if err != nil {
		t.Fatalf("InstallDefaults: %v", err)
	}
	if len(written) == 0 {
		t.Fatal("nothing written")
	}

	// User edits survive a second install without force.
	custom := filepath.Join(dirs.Prompts, "coder.md")
	os.WriteFile(custom, []byte("custom"), 0644)
	again, err := InstallDefaults(dirs, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second install wrote %v", again)
	}
	if data, _ := os.ReadFile(custom); string(data) != "custom" {
		t.Error("custom prompt overwritten without force")
	}

	if _, err := InstallDefaults(dirs, true); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(custom); string(data) == "custom" {
		t.Error("force did not overwrite")
	}

	// Every agent referenced by a bundled flow or command has a template.
	c := NewCatalog(dirs.Flows)
	if err := c.ValidateChains(); err != nil {
		t.Errorf("bundled flows: %v", err)
	}
	set := &CommandSet{Dir: dirs.Commands}
	cmds, err := set.List(nil)
	if err != nil {
		t.Fatal(err)
	}
	var flows []*Flow
	names, _ := c.List()
	for _, n := range names {
		f, err := c.Load(n)
		if err != nil {
			t.Fatal(err)
		}
		flows = append(flows, f)
	}
	for _, cmd := range cmds {
		f, err := cmd.Flow()
		if err != nil {
			t.Fatalf("command %s: %v", cmd.ID, err)
		}
		flows = append(flows, f)
	}
	for _, f := range flows {
		for _, step := range f.Steps {
			for _, agent := range step.Agents() {
				if _, err := os.Stat(filepath.Join(dirs.Prompts, agent+".md")); err != nil {
					t.Errorf("flow %s: no prompt for agent %s", f.Name, agent)
				}
			}
		}
	}
}

func TestCommandSet(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "rebase.yaml"), []byte(`name: Rebase
id: rebase
description: rebase onto a branch
requires_arg: branch
steps:
  - agent: rebase-executor
    until: AGENT_DONE
`), 0644)
	os.WriteFile(filepath.Join(dir, "create-pr.yaml"), []byte(`name: Create Draft PR
id: create-pr
description: open a pr
steps:
  - agent: pr-creator
    until: AGENT_DONE
`), 0644)
	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: Broken\nrequires_arg: file\n"), 0644)

	set := &CommandSet{Dir: dir}
	var skipped []string
	cmds, err := set.List(func(path string, err error) { skipped = append(skipped, filepath.Base(path)) })
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("len(cmds) = %d, want 2", len(cmds))
	}
	if cmds[0].ID != "create-pr" || cmds[1].ID != "rebase" {
		t.Errorf("order = %s, %s; want sorted by name", cmds[0].ID, cmds[1].ID)
	}
	if len(skipped) != 1 || skipped[0] != "broken.yaml" {
		t.Errorf("skipped = %v", skipped)
	}

	rebase, err := set.Get("rebase")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rebase.RequiresArg != ArgBranch {
		t.Errorf("RequiresArg = %q", rebase.RequiresArg)
	}
	f, err := rebase.Flow()
	if err != nil {
		t.Fatalf("Flow: %v", err)
	}
	if f.Name != "rebase" || len(f.Steps) != 1 {
		t.Errorf("flow = %+v", f)
	}

	if _, err := set.Get("missing"); !faults.IsLoad(err) {
		t.Errorf("missing command: want load fault, got %v", err)
	}
}

func TestCommandSetRejectsPaths(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "commands")
	os.Mkdir(dir, 0755)
	os.WriteFile(filepath.Join(root, "outside.yaml"), []byte("name: Outside\nsteps:\n  - agent: a\n    until: AGENT_DONE\n"), 0644)
	set := &CommandSet{Dir: dir}

	for _, id := range []string{"", "../outside", `..\outside`, "sub/cmd"} {
		_, err := set.Get(id)
		if !faults.IsLoad(err) || !strings.Contains(err.Error(), "invalid command id") {
			t.Errorf("Get(%q) = %v, want invalid id", id, err)
		}
	}
}
