package endpoint

import (
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

// Iface is one discovered interface address.
type Iface struct {
	Name string
	IP   net.IP
}

// Lister enumerates active non-loopback IPv4 interface addresses.
// Injectable so resolution policy is testable without real hardware.
type Lister func() ([]Iface, error)

// RouteProber returns the local IPv4 used for the default route.
type RouteProber func() (net.IP, error)

// PortProber verifies that addr:port can be bound.
type PortProber func(addr string, port int) error

// Matcher decides whether an interface looks like the right one for a
// mode. Matchers are tried in order; the first hit wins.
type Matcher func(Iface) bool

// Resolver picks the address to advertise for a transfer mode. The guess
// is inherently heuristic, so the policy is an ordered matcher list with
// graceful fallback rather than a single hardcoded check.
type Resolver struct {
	list            Lister
	probeRoute      RouteProber
	probePort       PortProber
	hotspotMatchers []Matcher
	logger          *logrus.Logger
}

// Adapter names that suggest a tethering/WiFi-Direct link, checked after
// the subnet matchers.
var hotspotNameHints = []string{"ap", "hotspot", "p2p", "direct"}

// NewResolver creates a Resolver using real interface enumeration.
// hotspotSubnets is the configurable CIDR list that marks tethering
// address ranges; invalid entries are skipped with a warning.
func NewResolver(hotspotSubnets []string, logger *logrus.Logger) *Resolver {
	return &Resolver{
		list:            listInterfaces,
		probeRoute:      probeDefaultRoute,
		probePort:       probePort,
		hotspotMatchers: buildHotspotMatchers(hotspotSubnets, logger),
		logger:          logger,
	}
}

// NewResolverWithProbes creates a Resolver with injected discovery
// functions, for tests.
func NewResolverWithProbes(list Lister, route RouteProber, port PortProber, hotspotSubnets []string, logger *logrus.Logger) *Resolver {
	return &Resolver{
		list:            list,
		probeRoute:      route,
		probePort:       port,
		hotspotMatchers: buildHotspotMatchers(hotspotSubnets, logger),
		logger:          logger,
	}
}

func buildHotspotMatchers(subnets []string, logger *logrus.Logger) []Matcher {
	matchers := make([]Matcher, 0, len(subnets)+1)
	for _, cidr := range subnets {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnf("Ignoring invalid hotspot subnet %q: %v", cidr, err)
			continue
		}
		subnet := ipnet
		matchers = append(matchers, func(i Iface) bool {
			return subnet.Contains(i.IP)
		})
	}
	matchers = append(matchers, func(i Iface) bool {
		name := strings.ToLower(i.Name)
		for _, hint := range hotspotNameHints {
			if strings.Contains(name, hint) {
				return true
			}
		}
		return false
	})
	return matchers
}

// Resolve selects the address for the mode and verifies the port can be
// bound there. Hotspot ambiguity degrades to a warning, never a failure;
// a bound port is the only hard requirement besides having an interface.
func (r *Resolver) Resolve(cfg Config) (Resolved, error) {
	ifaces, err := r.list()
	if err != nil {
		return Resolved{}, fmt.Errorf("interface enumeration failed: %w", err)
	}
	if len(ifaces) == 0 {
		return Resolved{}, ErrNoInterface
	}

	var chosen Iface
	var warning string

	switch cfg.Mode {
	case ModeHotspot:
		chosen, warning = r.pickHotspot(ifaces)
	default:
		chosen = r.pickLAN(ifaces)
	}

	if err := r.probePort(chosen.IP.String(), cfg.Port); err != nil {
		return Resolved{}, fmt.Errorf("%w: %d on %s", ErrPortUnavailable, cfg.Port, chosen.IP)
	}

	resolved := Resolved{
		Address: chosen.IP.String(),
		Port:    cfg.Port,
		URL:     fmt.Sprintf("http://%s:%d", chosen.IP, cfg.Port),
		Warning: warning,
	}
	r.logger.Infof("Resolved %s endpoint %s (interface %s)", cfg.Mode, resolved.URL, chosen.Name)
	return resolved, nil
}

func (r *Resolver) pickHotspot(ifaces []Iface) (Iface, string) {
	for _, match := range r.hotspotMatchers {
		for _, iface := range ifaces {
			if match(iface) {
				return iface, ""
			}
		}
	}
	// Expected ambiguity: tethering subnets vary by OS. Fall back to the
	// first usable interface and let the caller surface the warning.
	return ifaces[0], fmt.Sprintf("no hotspot-looking interface found, using %s (%s)", ifaces[0].Name, ifaces[0].IP)
}

func (r *Resolver) pickLAN(ifaces []Iface) Iface {
	if ip, err := r.probeRoute(); err == nil {
		for _, iface := range ifaces {
			if iface.IP.Equal(ip) {
				return iface
			}
		}
	}
	return ifaces[0]
}

// listInterfaces enumerates up, non-loopback interfaces with IPv4
// addresses.
func listInterfaces() ([]Iface, error) {
	netIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Iface
	for _, ni := range netIfaces {
		if ni.Flags&net.FlagUp == 0 || ni.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ni.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				out = append(out, Iface{Name: ni.Name, IP: ip4})
			}
		}
	}
	return out, nil
}

// probeDefaultRoute finds the local address used for outbound traffic.
// The dial never sends a packet; UDP connect only selects a source
// address.
func probeDefaultRoute() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}

// probePort binds and immediately releases addr:port.
func probePort(addr string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
