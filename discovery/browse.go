package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ErrGroupNotFound is returned by Lookup when no owner answers in time.
var ErrGroupNotFound = errors.New("discovery: group not found")

// Group is one advertised group seen on the LAN.
type Group struct {
	Name      string
	OwnerID   string
	AuthTag   string
	Version   int
	HostName  string
	Port      int
	Addresses []string
}

// Browse collects the groups advertised during one browse window. It returns
// early when found reports true for a group. Groups are sorted by name.
func Browse(ctx context.Context, config Config, found func(Group) bool) ([]Group, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	window, cancel := context.WithTimeout(ctx, cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	groups := make(map[string]Group)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var in <-chan *zeroconf.ServiceEntry = entries
		for {
			var entry *zeroconf.ServiceEntry
			select {
			case <-window.Done():
				return
			case e, open := <-in:
				if !open {
					in = nil
					continue
				}
				entry = e
			}
			if entry == nil {
				continue
			}
			group, ok := parseEntry(entry, cfg.Version)
			if !ok {
				continue
			}
			groups[group.Name] = group
			if found != nil && found(group) {
				cancel()
				return
			}
		}
	}()

	if err := browse(window, cfg.Service, cfg.Domain, entries); err != nil {
		cancel()
		<-done
		return nil, err
	}
	<-done

	out := make([]Group, 0, len(groups))
	for _, group := range groups {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	// The window closing is the normal end; the caller's ctx ending is not.
	return out, ctx.Err()
}

// Lookup browses until the group named name is seen.
func Lookup(ctx context.Context, config Config, name string) (Group, error) {
	var match Group
	_, err := Browse(ctx, config, func(group Group) bool {
		if group.Name != name {
			return false
		}
		match = group
		return true
	})
	if err != nil {
		return Group{}, err
	}
	if match.Name == "" {
		return Group{}, ErrGroupNotFound
	}
	return match, nil
}

func parseEntry(entry *zeroconf.ServiceEntry, version int) (Group, bool) {
	txt := parseTXT(entry.Text)
	group := Group{
		Name:     strings.TrimSpace(entry.Instance),
		OwnerID:  txt[txtOwner],
		AuthTag:  txt[txtAuth],
		HostName: entry.HostName,
		Port:     entry.Port,
	}
	if group.Name == "" || group.OwnerID == "" || group.AuthTag == "" {
		return Group{}, false
	}
	if v, err := strconv.Atoi(txt[txtVersion]); err != nil || v != version {
		return Group{}, false
	}
	group.Version = version

	// IPv4 first, each family sorted, duplicates dropped.
	seen := make(map[string]bool)
	for _, family := range [][]net.IP{entry.AddrIPv4, entry.AddrIPv6} {
		var batch []string
		for _, ip := range family {
			if ip == nil || seen[ip.String()] {
				continue
			}
			seen[ip.String()] = true
			batch = append(batch, ip.String())
		}
		sort.Strings(batch)
		group.Addresses = append(group.Addresses, batch...)
	}
	return group, true
}

// parseTXT splits key=value records; records without a key are ignored.
func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
