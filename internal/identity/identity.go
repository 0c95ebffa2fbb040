// Package identity implements the hub's identity provider: the numeric
// UID, the keyed configuration, and the resolver mapping UIDs to
// transport endpoints out of a hosts database file.
package identity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/wanhive/hub/internal/config"
	"github.com/wanhive/hub/internal/hub"
)

// Address is one resolved endpoint. A service of "unix" marks a
// Unix-domain socket whose path is the host field.
type Address struct {
	Host    string `yaml:"host"`
	Service string `yaml:"service"`
}

type hostsFile struct {
	Hosts map[uint64]Address `yaml:"hosts"`
}

// Provider satisfies the hub's identity contract from the loaded
// configuration and an optional hosts database.
type Provider struct {
	cfg   *config.Config
	hosts map[uint64]Address
}

// New creates a provider. The hosts database is loaded when the
// configuration names one.
func New(cfg *config.Config) (*Provider, error) {
	p := &Provider{cfg: cfg, hosts: make(map[uint64]Address)}
	if cfg.Identity.Hosts != "" {
		data, err := os.ReadFile(cfg.Identity.Hosts)
		if err != nil {
			return nil, fmt.Errorf("hosts database: %w", err)
		}
		var hf hostsFile
		if err := yaml.Unmarshal(data, &hf); err != nil {
			return nil, fmt.Errorf("hosts database %s: %w", cfg.Identity.Hosts, err)
		}
		p.hosts = hf.Hosts
	}
	return p, nil
}

// UID returns this hub's identity.
func (p *Provider) UID() uint64 { return p.cfg.Identity.UID }

// Context returns the hub engine parameters.
func (p *Provider) Context() (hub.Context, error) {
	return p.cfg.HubContext(), nil
}

// Address resolves a hub UID to its transport endpoint.
func (p *Provider) Address(uid uint64) (string, string, error) {
	addr, found := p.hosts[uid]
	if !found {
		return "", "", fmt.Errorf("no address for hub %d", uid)
	}
	return addr.Host, addr.Service, nil
}

// Put adds or replaces an address entry in memory.
func (p *Provider) Put(uid uint64, host, service string) {
	p.hosts[uid] = Address{Host: host, Service: service}
}
