// Package config loads the daemon's boot configuration: router identity,
// per-port hardware description, the static routing-table file, and
// optional static ARP entries.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/openfpga/routerd/internal/iface"
	"github.com/openfpga/routerd/internal/packet"
)

// InterfaceConfig describes one physical port.
type InterfaceConfig struct {
	Name  string `json:"name"`
	IP    string `json:"ip"`
	Mask  string `json:"mask"`
	MAC   string `json:"mac"`
	Speed uint32 `json:"speed"`
}

// StaticARPConfig is a boot-time permanent ARP entry.
type StaticARPConfig struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// Config is the daemon's boot configuration.
type Config struct {
	RouterID      uint32            `json:"router_id"`
	AreaID        uint32            `json:"area_id"`
	HelloInterval uint16            `json:"hello_interval"`
	RTableFile    string            `json:"rtable_file"`
	Interfaces    []InterfaceConfig `json:"interfaces"`
	StaticARP     []StaticARPConfig `json:"static_arp"`
}

// StaticARPEntry is a parsed static ARP row.
type StaticARPEntry struct {
	IP  netip.Addr
	MAC packet.MAC
}

// Load reads and decodes the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required fields.
func (c *Config) Validate() error {
	if c.RouterID == 0 {
		return fmt.Errorf("config: router_id is required")
	}
	if c.RTableFile == "" {
		return fmt.Errorf("config: rtable_file is required")
	}
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("config: at least one interface is required")
	}
	if len(c.Interfaces) > iface.NumPorts {
		return fmt.Errorf("config: at most %d interfaces supported", iface.NumPorts)
	}
	for _, ic := range c.Interfaces {
		if ic.Name == "" {
			return fmt.Errorf("config: interface name is required")
		}
		if _, _, _, err := parseInterface(ic); err != nil {
			return err
		}
	}
	for _, sa := range c.StaticARP {
		if _, err := parseStaticARP(sa); err != nil {
			return err
		}
	}
	return nil
}

// ParseInterfaces converts the configured ports for the interface table.
func (c *Config) ParseInterfaces() ([]iface.Interface, error) {
	out := make([]iface.Interface, 0, len(c.Interfaces))
	for _, ic := range c.Interfaces {
		ip, mask, mac, err := parseInterface(ic)
		if err != nil {
			return nil, err
		}
		out = append(out, iface.Interface{
			Name:  ic.Name,
			IP:    ip,
			Mask:  mask,
			MAC:   mac,
			Speed: ic.Speed,
		})
	}
	return out, nil
}

// ParseStaticARP converts the configured static ARP rows.
func (c *Config) ParseStaticARP() ([]StaticARPEntry, error) {
	out := make([]StaticARPEntry, 0, len(c.StaticARP))
	for _, sa := range c.StaticARP {
		e, err := parseStaticARP(sa)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseInterface(ic InterfaceConfig) (ip, mask netip.Addr, mac packet.MAC, err error) {
	ip, err = netip.ParseAddr(ic.IP)
	if err != nil || !ip.Is4() {
		return ip, mask, mac, fmt.Errorf("config: interface %s: bad ip %q", ic.Name, ic.IP)
	}
	mask, err = netip.ParseAddr(ic.Mask)
	if err != nil || !mask.Is4() {
		return ip, mask, mac, fmt.Errorf("config: interface %s: bad mask %q", ic.Name, ic.Mask)
	}
	mac, err = parseMAC(ic.MAC)
	if err != nil {
		return ip, mask, mac, fmt.Errorf("config: interface %s: bad mac %q", ic.Name, ic.MAC)
	}
	return ip, mask, mac, nil
}

func parseStaticARP(sa StaticARPConfig) (StaticARPEntry, error) {
	ip, err := netip.ParseAddr(sa.IP)
	if err != nil || !ip.Is4() {
		return StaticARPEntry{}, fmt.Errorf("config: static arp: bad ip %q", sa.IP)
	}
	mac, err := parseMAC(sa.MAC)
	if err != nil {
		return StaticARPEntry{}, fmt.Errorf("config: static arp: bad mac %q", sa.MAC)
	}
	return StaticARPEntry{IP: ip, MAC: mac}, nil
}

func parseMAC(s string) (packet.MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return packet.MAC{}, err
	}
	if len(hw) != 6 {
		return packet.MAC{}, fmt.Errorf("not a 48-bit address")
	}
	var m packet.MAC
	copy(m[:], hw)
	return m, nil
}
