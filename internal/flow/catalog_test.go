package flow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/agman/internal/faults"
)

func writeFlow(t *testing.T, dir, name, then string) {
	t.Helper()
	body := "name: " + name + "\n"
	if then != "" {
		body += "then: " + then + "\n"
	}
	body += "steps:\n  - agent: coder\n    until: AGENT_DONE\n"
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCatalogLoadAndList(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "b", "")
	writeFlow(t, dir, "a", "b")
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	c := NewCatalog(dir)
	names, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Errorf("List() = %v, want [a b]", names)
	}

	f, err := c.Load("a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Then != "b" {
		t.Errorf("Then = %q", f.Then)
	}

	if _, err := c.Load("../etc"); !faults.IsLoad(err) {
		t.Errorf("path traversal: want load fault, got %v", err)
	}
	if _, err := c.Load("nope"); !faults.IsLoad(err) {
		t.Errorf("missing flow: want load fault, got %v", err)
	}
}

func TestCatalogListMissingDir(t *testing.T) {
	names, err := NewCatalog(filepath.Join(t.TempDir(), "absent")).List()
	if err != nil || len(names) != 0 {
		t.Errorf("List() = %v, %v; want empty, nil", names, err)
	}
}

func TestCatalogChains(t *testing.T) {
	tests := []struct {
		name        string
		flows       map[string]string // name -> then
		start       string
		wantChain   string
		errContains string
	}{
		{
			name:      "linear chain",
			flows:     map[string]string{"new": "review", "review": "", "other": ""},
			start:     "new",
			wantChain: "new,review",
		},
		{
			name:      "single flow",
			flows:     map[string]string{"new": ""},
			start:     "new",
			wantChain: "new",
		},
		{
			name:        "direct cycle",
			flows:       map[string]string{"a": "b", "b": "a"},
			start:       "a",
			errContains: "cycle",
		},
		{
			name:        "self loop",
			flows:       map[string]string{"a": "a"},
			start:       "a",
			errContains: "cycle",
		},
		{
			name:        "unknown target",
			flows:       map[string]string{"a": "ghost"},
			start:       "a",
			errContains: "ghost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, then := range tt.flows {
				writeFlow(t, dir, name, then)
			}
			c := NewCatalog(dir)

			validateErr := c.ValidateChains()
			chain, chainErr := c.Chain(tt.start)

			if tt.errContains != "" {
				if validateErr == nil || !strings.Contains(validateErr.Error(), tt.errContains) {
					t.Errorf("ValidateChains() = %v, want error containing %q", validateErr, tt.errContains)
				}
				if chainErr == nil {
					t.Error("Chain() should fail")
				}
				return
			}
			if validateErr != nil {
				t.Fatalf("ValidateChains: %v", validateErr)
			}
			if chainErr != nil {
				t.Fatalf("Chain: %v", chainErr)
			}
			if got := strings.Join(chain, ","); got != tt.wantChain {
				t.Errorf("Chain() = %q, want %q", got, tt.wantChain)
			}
		})
	}
}
