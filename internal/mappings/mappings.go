// Package mappings holds the read-only table of content-delivery hosts whose
// resources have a locally bundled equivalent.
package mappings

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resource describes what a mapped host serves: request path prefixes and the
// local resource each one maps to. The load watcher only checks existence.
type Resource struct {
	Host  string            `yaml:"-"`
	Paths map[string]string `yaml:"paths"`
}

// Registry looks up the resource descriptor for a host.
type Registry interface {
	Lookup(host string) (Resource, bool)
}

// Static is an immutable Registry backed by a map.
type Static struct {
	hosts map[string]Resource
}

// NewStatic builds a registry from host → path-prefix tables.
func NewStatic(table map[string]map[string]string) *Static {
	hosts := make(map[string]Resource, len(table))
	for host, paths := range table {
		key := strings.ToLower(host)
		copied := make(map[string]string, len(paths))
		for prefix, local := range paths {
			copied[prefix] = local
		}
		hosts[key] = Resource{Host: key, Paths: copied}
	}
	return &Static{hosts: hosts}
}

// Default returns the built-in CDN table.
func Default() *Static {
	return NewStatic(defaultTable)
}

// Lookup returns the descriptor for host. Matching is case-insensitive.
func (s *Static) Lookup(host string) (Resource, bool) {
	r, ok := s.hosts[strings.ToLower(host)]
	return r, ok
}

// Hosts returns every mapped host, sorted.
func (s *Static) Hosts() []string {
	hosts := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Merge returns a new registry holding s extended by overlay. Overlay paths
// win for hosts present in both.
func (s *Static) Merge(overlay map[string]map[string]string) *Static {
	table := make(map[string]map[string]string, len(s.hosts)+len(overlay))
	for host, r := range s.hosts {
		table[host] = r.Paths
	}
	for host, paths := range overlay {
		key := strings.ToLower(host)
		merged := make(map[string]string, len(table[key])+len(paths))
		for prefix, local := range table[key] {
			merged[prefix] = local
		}
		for prefix, local := range paths {
			merged[prefix] = local
		}
		table[key] = merged
	}
	return NewStatic(table)
}

type overlayFile struct {
	Hosts map[string]Resource `yaml:"hosts"`
}

// ParseOverlay decodes a YAML overlay document.
func ParseOverlay(data []byte) (map[string]map[string]string, error) {
	var doc overlayFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mappings overlay: %w", err)
	}
	table := make(map[string]map[string]string, len(doc.Hosts))
	for host, r := range doc.Hosts {
		if strings.TrimSpace(host) == "" {
			return nil, fmt.Errorf("mappings overlay contains an empty host")
		}
		table[host] = r.Paths
	}
	return table, nil
}

// Load returns the built-in table, extended by the YAML overlay at path when
// path is not empty.
func Load(path string) (*Static, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings overlay %s: %w", path, err)
	}
	overlay, err := ParseOverlay(data)
	if err != nil {
		return nil, err
	}
	return base.Merge(overlay), nil
}
