package rtable

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// LoadStatic reads the boot routing-table file, one
// "destination gateway mask interface" row per line, and installs each row
// as static. Lines that do not parse are logged and skipped, matching the
// forgiving behavior of the boot loader this table replaces; an unknown
// interface name is a configuration error and aborts the load.
func (t *Table) LoadStatic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rtable: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			t.log.Warn("rtable: ignoring malformed line", "file", path, "line", line)
			continue
		}
		dest, err1 := netip.ParseAddr(fields[0])
		gw, err2 := netip.ParseAddr(fields[1])
		mask, err3 := netip.ParseAddr(fields[2])
		if err1 != nil || err2 != nil || err3 != nil {
			t.log.Warn("rtable: ignoring unparsable line", "file", path, "line", line)
			continue
		}
		p := t.ifaces.ByName(fields[3])
		if p == nil {
			return fmt.Errorf("rtable: %s:%d: unknown interface %q", path, line, fields[3])
		}
		if err := t.AddStatic(Route{
			Dest:    dest,
			Mask:    mask,
			Gateway: gw,
			Iface:   p.Name,
			Port:    p.Index,
		}); err != nil {
			return err
		}
		t.log.Info("rtable: static route",
			"dest", dest, "gateway", gw, "mask", mask, "interface", p.Name)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("rtable: read %s: %w", path, err)
	}
	return nil
}
