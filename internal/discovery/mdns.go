// Package discovery advertises a running chat server on the local network
// over mDNS / DNS-SD.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"linechat/internal/retry"
	"linechat/util"
)

const (
	// ServiceType is the DNS-SD service type chat servers register under.
	ServiceType = "_linechat._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."
)

// Service describes what gets advertised.
type Service struct {
	Instance string // empty means "linechat-<hostname>"
	Port     int
	Version  string
	MaxLine  int
}

// registration is the part of *zeroconf.Server an Advertisement needs.
type registration interface {
	Shutdown()
}

// register is swapped out in tests.
var register = func(instance, service, domain string, port int, txt []string) (registration, error) { //nolint:gochecknoglobals
	s, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Advertisement is a live mDNS registration.
type Advertisement struct {
	Instance string
	reg      registration
}

// Shutdown withdraws the advertisement. Safe on a nil receiver.
func (a *Advertisement) Shutdown() {
	if a == nil || a.reg == nil {
		return
	}
	a.reg.Shutdown()
	a.reg = nil
}

// Advertise registers svc, retrying transient failures with
// retry.AdvertiseBackoff.
func Advertise(ctx context.Context, svc Service, logger *util.Logger) (*Advertisement, error) {
	if logger == nil {
		logger = util.NopLogger()
	}
	if svc.Port <= 0 || svc.Port > 65535 {
		return nil, fmt.Errorf("advertise: invalid port %d", svc.Port)
	}

	instance := svc.Instance
	if instance == "" {
		instance = DefaultInstance()
	}
	txt := TXT(svc)

	b := retry.AdvertiseBackoff()
	b.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Verbose("mdns register attempt %d failed: %v (retrying in %s)", attempt, err, wait.Round(time.Millisecond))
	}

	var reg registration
	err := b.Do(ctx, func(int) error {
		r, err := register(instance, ServiceType, ServiceDomain, svc.Port, txt)
		if err != nil {
			return err
		}
		reg = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", instance, err)
	}

	logger.Info("advertising %q as %s.%s on port %d", instance, ServiceType, ServiceDomain, svc.Port)
	return &Advertisement{Instance: instance, reg: reg}, nil
}

// DefaultInstance returns "linechat-<hostname>", or "linechat" when the
// hostname is unavailable.
func DefaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "linechat"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return "linechat-" + host
}

// TXT renders the TXT records for svc.
func TXT(svc Service) []string {
	var txt []string
	if svc.Version != "" {
		txt = append(txt, "version="+svc.Version)
	}
	if svc.MaxLine > 0 {
		txt = append(txt, "max_line="+strconv.Itoa(svc.MaxLine))
	}
	return txt
}

// ParseTXT turns "key=value" records into a map. A record without '='
// maps to an empty value.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, rec := range records {
		k, v, _ := strings.Cut(rec, "=")
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
