// Package inventory loads host group definitions and verifies endpoint
// reachability before any provisioning task is dispatched.
package inventory

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bosunhq/bosun/pkg/engine"
)

// DefaultSSHPort is used when an endpoint does not set one.
const DefaultSSHPort = 22

// Endpoint is one connectable host within a group.
type Endpoint struct {
	// Host is the DNS name or IP address.
	Host string `yaml:"host" validate:"required"`

	// Port is the SSH port; 0 means DefaultSSHPort.
	Port int `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the login user for the transport.
	User string `yaml:"user,omitempty"`

	// KeyPath points at the private key used to authenticate.
	KeyPath string `yaml:"key_path,omitempty"`

	// Labels carry free-form endpoint metadata.
	Labels map[string]string `yaml:"labels,omitempty"`
}

// Address renders the endpoint as host:port.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Group is a named set of endpoints that execute the same task list. Group
// membership is static for the duration of a run.
type Group struct {
	// Name is the group name plays target. Filled from the map key at load.
	Name string `yaml:"-"`

	// Hosts are the group's endpoints. A group must have at least one.
	Hosts []Endpoint `yaml:"hosts" validate:"required,min=1,dive"`

	// Vars seed the group's fact store at run start.
	Vars map[string]any `yaml:"vars,omitempty"`
}

// Inventory is the full set of host groups known to a run.
type Inventory struct {
	// Groups maps group name to definition.
	Groups map[string]Group `yaml:"groups" validate:"required,min=1,dive"`
}

var validate = validator.New()

// Parse decodes and validates inventory YAML.
func Parse(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	for name, group := range inv.Groups {
		group.Name = name
		inv.Groups[name] = group
	}
	if err := validate.Struct(&inv); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	return &inv, nil
}

// Load reads and parses an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return inv, nil
}

// Resolve returns the named group. Targeting a group that does not exist or
// has no members fails with *engine.UnknownGroupError before anything runs.
func (i *Inventory) Resolve(name string) (*Group, error) {
	group, ok := i.Groups[name]
	if !ok || len(group.Hosts) == 0 {
		return nil, &engine.UnknownGroupError{Group: name}
	}
	return &group, nil
}

// GroupNames returns all group names in sorted order.
func (i *Inventory) GroupNames() []string {
	names := make([]string, 0, len(i.Groups))
	for name := range i.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SeedFacts converts the group's vars into engine values for the fact store.
func (g *Group) SeedFacts() (map[string]engine.Value, error) {
	facts := make(map[string]engine.Value, len(g.Vars))
	for name, raw := range g.Vars {
		v, err := engine.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("group %s var %q: %w", g.Name, name, err)
		}
		facts[name] = v
	}
	return facts, nil
}
