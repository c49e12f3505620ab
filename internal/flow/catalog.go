package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/agman/internal/faults"
)

// Catalog is a directory of flow files, one <name>.yaml per flow.
type Catalog struct {
	Dir string
}

// NewCatalog returns a catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{Dir: dir}
}

// Path returns the file a flow named name is read from.
func (c *Catalog) Path(name string) string {
	return filepath.Join(c.Dir, name+".yaml")
}

// Load reads the named flow. A flow whose name field is empty takes the
// file name.
func (c *Catalog) Load(name string) (*Flow, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, faults.Load("load flow", fmt.Errorf("invalid flow name %q", name))
	}
	f, err := Load(c.Path(name))
	if err != nil {
		return nil, err
	}
	if f.Name == "" {
		f.Name = name
	}
	return f, nil
}

// List returns the names of all flows in the catalog, sorted.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// Chain returns the flows reached by following "then" from start, start
// first. It fails on a missing target or a cycle.
func (c *Catalog) Chain(start string) ([]string, error) {
	var edges []toposort.Edge
	seen := map[string]bool{}
	name := start
	for name != "" && !seen[name] {
		seen[name] = true
		f, err := c.Load(name)
		if err != nil {
			return nil, err
		}
		if f.Then == "" {
			edges = append(edges, toposort.Edge{nil, name})
		} else {
			edges = append(edges, toposort.Edge{name, f.Then})
		}
		name = f.Then
	}
	return sortChain(edges)
}

// ValidateChains loads every flow and checks that "then" links point at
// existing flows and never loop back.
func (c *Catalog) ValidateChains() error {
	names, err := c.List()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	var edges []toposort.Edge
	for _, n := range names {
		f, err := c.Load(n)
		if err != nil {
			return err
		}
		if f.Then == "" {
			edges = append(edges, toposort.Edge{nil, n})
			continue
		}
		if !known[f.Then] {
			return faults.Load("validate flow "+n, fmt.Errorf("then references unknown flow %q", f.Then))
		}
		edges = append(edges, toposort.Edge{n, f.Then})
	}
	_, err = sortChain(edges)
	return err
}

func sortChain(edges []toposort.Edge) ([]string, error) {
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, faults.Load("validate flow chain", fmt.Errorf("flow chain contains cycle: %w", err))
	}
	order := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if v != nil {
			order = append(order, v.(string))
		}
	}
	return order, nil
}
