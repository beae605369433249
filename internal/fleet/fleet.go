package fleet

import (
	"fmt"

	"github.com/S-Ungurean/healthdeploy/internal/config"
)

// Node is one machine of the target fleet.
type Node struct {
	Name    string
	IP      string
	ID      string
	SSHUser string
	SSHPort int
	Tags    map[string]string
}

// Addr returns the node's SSH dial address.
func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.SSHPort)
}

// Inventory holds the known fleet and answers tag-based selection queries.
// Remote commands address every node carrying a tag, never a single machine.
type Inventory struct {
	nodes []Node
}

// NewInventory builds the inventory from the configured hosts, filling
// per-host defaults from the SSH section.
func NewInventory(cfg config.Config) *Inventory {
	var nodes []Node
	for _, h := range cfg.Fleet.Hosts {
		user := h.User
		if user == "" {
			user = cfg.SSH.User
		}
		port := h.Port
		if port == 0 {
			port = cfg.SSH.Port
		}
		nodes = append(nodes, Node{
			Name:    h.Name,
			IP:      h.IP,
			ID:      fmt.Sprintf("fleet-%s", h.Name),
			SSHUser: user,
			SSHPort: port,
			Tags:    h.Tags,
		})
	}
	return &Inventory{nodes: nodes}
}

// All returns every known node.
func (i *Inventory) All() []Node {
	out := make([]Node, len(i.nodes))
	copy(out, i.nodes)
	return out
}

// SelectByTag returns all nodes carrying key=value.
func (i *Inventory) SelectByTag(key, value string) []Node {
	var out []Node
	for _, n := range i.nodes {
		if n.Tags[key] == value {
			out = append(out, n)
		}
	}
	return out
}
