// Package discovery advertises and finds local groups over mDNS.
package discovery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_peerlink-group._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultBrowseTimeout bounds one browse window.
	DefaultBrowseTimeout = 5 * time.Second
)

const (
	txtVersion = "version"
	txtOwner   = "owner"
	txtAuth    = "auth"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertisement and browsing.
type Config struct {
	Service       string
	Domain        string
	Version       int
	BrowseTimeout time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.BrowseTimeout <= 0 {
		out.BrowseTimeout = DefaultBrowseTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Announcement is what an owner publishes for its group.
type Announcement struct {
	GroupName string
	OwnerID   string
	Port      int
	// AuthTag proves knowledge of the group passphrase; see AuthTag.
	AuthTag string
}

func (a Announcement) validate() error {
	if strings.TrimSpace(a.GroupName) == "" {
		return errors.New("group name is required")
	}
	if strings.TrimSpace(a.OwnerID) == "" {
		return errors.New("owner ID is required")
	}
	if a.Port <= 0 {
		return errors.New("port must be > 0")
	}
	if a.AuthTag == "" {
		return errors.New("auth tag is required")
	}
	return nil
}

// Advertiser publishes one group via mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers and starts the mDNS record for announcement.
func Advertise(config Config, announcement Announcement) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := announcement.validate(); err != nil {
		return nil, err
	}

	txt := []string{
		txtVersion + "=" + strconv.Itoa(cfg.Version),
		txtOwner + "=" + announcement.OwnerID,
		txtAuth + "=" + announcement.AuthTag,
	}

	server, err := cfg.registerFn(announcement.GroupName, cfg.Service, cfg.Domain, announcement.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Stop withdraws the record.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// AuthTag returns the hex HMAC-SHA256 of groupName keyed by passphrase.
func AuthTag(groupName, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(passphrase))
	mac.Write([]byte(groupName))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAuthTag reports whether tag matches groupName and passphrase.
func VerifyAuthTag(tag, groupName, passphrase string) bool {
	got, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(AuthTag(groupName, passphrase))
	return hmac.Equal(got, want)
}
