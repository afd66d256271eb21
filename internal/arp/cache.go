// Package arp implements the slow-path ARP engine: the IP→MAC cache with
// its hardware mirror, the per-next-hop resolution queue, request/reply
// handling, and the 1 Hz aging task that retries and expires.
package arp

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/openfpga/routerd/internal/nf"
	"github.com/openfpga/routerd/internal/packet"
)

// DefaultCacheTTL is how long a non-static cache entry lives after its last
// refresh.
const DefaultCacheTTL = 300 * time.Second

type cacheEntry struct {
	mac    packet.MAC
	static bool
}

// Cache is the ARP cache. Static entries never expire; non-static entries
// age out DefaultCacheTTL after their last refresh (lookups do not refresh).
// The whole cache is rewritten into the hardware ARP table on any change,
// static entries first in discovered order.
type Cache struct {
	log *slog.Logger
	dev nf.Device

	store *ttlcache.Cache[netip.Addr, cacheEntry]

	mu    sync.Mutex
	order []netip.Addr // discovery order, drives hardware row placement
	dirty bool
}

// NewCache returns a cache whose non-static entries live for ttl.
func NewCache(log *slog.Logger, dev nf.Device, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{log: log, dev: dev}
	c.store = ttlcache.New(
		ttlcache.WithTTL[netip.Addr, cacheEntry](ttl),
		ttlcache.WithDisableTouchOnHit[netip.Addr, cacheEntry](),
	)
	c.store.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[netip.Addr, cacheEntry]) {
		// Runs inside DeleteExpired during the aging pass; only the
		// bookkeeping under c.mu may be touched here.
		c.mu.Lock()
		c.removeOrderLocked(item.Key())
		c.dirty = true
		c.mu.Unlock()
	})
	return c
}

// Lookup returns the MAC for ip without refreshing the entry's age.
func (c *Cache) Lookup(ip netip.Addr) (packet.MAC, bool) {
	item := c.store.Get(ip)
	if item == nil {
		return packet.MAC{}, false
	}
	return item.Value().mac, true
}

// Update creates or refreshes the entry for ip and rewrites the hardware
// mirror. A static update pins the entry forever.
func (c *Cache) Update(ip netip.Addr, mac packet.MAC, static bool) error {
	ttl := ttlcache.DefaultTTL
	if static {
		ttl = ttlcache.NoTTL
	}
	known := c.store.Has(ip)
	c.store.Set(ip, cacheEntry{mac: mac, static: static}, ttl)

	c.mu.Lock()
	if !known {
		c.order = append(c.order, ip)
	}
	c.dirty = true
	c.mu.Unlock()

	c.log.Debug("arp: cache updated", "ip", ip, "mac", mac, "static", static)
	return c.syncIfDirty()
}

// Expire removes aged-out entries; the hardware mirror is rewritten once at
// the end of the pass iff anything changed.
func (c *Cache) Expire() error {
	c.store.DeleteExpired()
	return c.syncIfDirty()
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return c.store.Len() }

// Sync unconditionally rewrites the hardware mirror.
func (c *Cache) Sync() error {
	c.mu.Lock()
	rows := c.rowsLocked()
	c.dirty = false
	c.mu.Unlock()
	if err := nf.WriteARPTable(c.dev, rows); err != nil {
		return fmt.Errorf("arp: hardware write-back: %w", err)
	}
	return nil
}

func (c *Cache) syncIfDirty() error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	rows := c.rowsLocked()
	c.dirty = false
	c.mu.Unlock()
	if err := nf.WriteARPTable(c.dev, rows); err != nil {
		return fmt.Errorf("arp: hardware write-back: %w", err)
	}
	return nil
}

// rowsLocked serializes the cache for the device: static rows first in
// discovered order, then the rest.
func (c *Cache) rowsLocked() []nf.ARPEntry {
	var static, dynamic []nf.ARPEntry
	for _, ip := range c.order {
		item := c.store.Get(ip)
		if item == nil {
			continue
		}
		row := nf.ARPEntry{IP: ip, MAC: item.Value().mac}
		if item.Value().static {
			static = append(static, row)
		} else {
			dynamic = append(dynamic, row)
		}
	}
	return append(static, dynamic...)
}

func (c *Cache) removeOrderLocked(ip netip.Addr) {
	for i, o := range c.order {
		if o == ip {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
