package endpoint_test

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshuttle/lanshuttle/pkg/endpoint"
)

var defaultSubnets = []string{"192.168.43.0/24", "192.168.49.0/24"}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func staticLister(ifaces ...endpoint.Iface) endpoint.Lister {
	return func() ([]endpoint.Iface, error) {
		return ifaces, nil
	}
}

func routeTo(ip string) endpoint.RouteProber {
	return func() (net.IP, error) {
		return net.ParseIP(ip).To4(), nil
	}
}

func noRoute() (net.IP, error) {
	return nil, errors.New("no default route")
}

func portOK(string, int) error {
	return nil
}

func iface(name, ip string) endpoint.Iface {
	return endpoint.Iface{Name: name, IP: net.ParseIP(ip).To4()}
}

func TestResolve_HotspotPrefersTetheringSubnet(t *testing.T) {
	r := endpoint.NewResolverWithProbes(
		staticLister(
			iface("eth0", "10.0.0.5"),
			iface("wlan0", "192.168.43.7"),
		),
		noRoute, portOK, defaultSubnets, testLogger(),
	)

	got, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeHotspot, Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "192.168.43.7", got.Address)
	assert.Equal(t, "http://192.168.43.7:1234", got.URL)
	assert.Empty(t, got.Warning)
}

func TestResolve_HotspotFallsBackToNameHint(t *testing.T) {
	r := endpoint.NewResolverWithProbes(
		staticLister(
			iface("eth0", "10.0.0.5"),
			iface("wlp2s0-hotspot", "172.20.10.2"),
		),
		noRoute, portOK, defaultSubnets, testLogger(),
	)

	got, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeHotspot, Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "172.20.10.2", got.Address)
	assert.Empty(t, got.Warning)
}

func TestResolve_HotspotFallbackWarnsInsteadOfFailing(t *testing.T) {
	r := endpoint.NewResolverWithProbes(
		staticLister(
			iface("eth0", "10.0.0.5"),
			iface("wlan0", "10.0.0.9"),
		),
		noRoute, portOK, defaultSubnets, testLogger(),
	)

	got, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeHotspot, Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", got.Address, "First interface wins when nothing matches")
	assert.NotEmpty(t, got.Warning)
}

func TestResolve_LANPrefersDefaultRouteInterface(t *testing.T) {
	r := endpoint.NewResolverWithProbes(
		staticLister(
			iface("docker0", "172.17.0.1"),
			iface("wlan0", "192.168.1.20"),
		),
		routeTo("192.168.1.20"), portOK, defaultSubnets, testLogger(),
	)

	got, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeLAN, Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", got.Address)
}

func TestResolve_LANWithoutRouteUsesFirstInterface(t *testing.T) {
	r := endpoint.NewResolverWithProbes(
		staticLister(
			iface("eth0", "192.168.1.5"),
			iface("wlan0", "192.168.1.20"),
		),
		noRoute, portOK, defaultSubnets, testLogger(),
	)

	got, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeLAN, Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", got.Address)
}

func TestResolve_NoInterfaces(t *testing.T) {
	r := endpoint.NewResolverWithProbes(staticLister(), noRoute, portOK, defaultSubnets, testLogger())

	_, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeLAN, Port: 1234})
	assert.ErrorIs(t, err, endpoint.ErrNoInterface)
}

func TestResolve_PortUnavailable(t *testing.T) {
	portBusy := func(string, int) error {
		return errors.New("address already in use")
	}
	r := endpoint.NewResolverWithProbes(
		staticLister(iface("eth0", "192.168.1.5")),
		noRoute, portBusy, defaultSubnets, testLogger(),
	)

	_, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeLAN, Port: 1234})
	assert.ErrorIs(t, err, endpoint.ErrPortUnavailable)
}

func TestResolve_InvalidSubnetIsSkipped(t *testing.T) {
	r := endpoint.NewResolverWithProbes(
		staticLister(iface("wlan0", "192.168.43.7")),
		noRoute, portOK, []string{"not-a-cidr", "192.168.43.0/24"}, testLogger(),
	)

	got, err := r.Resolve(endpoint.Config{Mode: endpoint.ModeHotspot, Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "192.168.43.7", got.Address)
	assert.Empty(t, got.Warning)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    endpoint.Mode
		wantErr bool
	}{
		{"hotspot", endpoint.ModeHotspot, false},
		{"lan", endpoint.ModeLAN, false},
		{"LAN", endpoint.ModeLAN, false},
		{"wifi", endpoint.ModeLAN, false},
		{"internet", endpoint.ModeLAN, false},
		{"bluetooth", endpoint.ModeLAN, true},
	}
	for _, tt := range tests {
		got, err := endpoint.ParseMode(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "hotspot", endpoint.ModeHotspot.String())
	assert.Equal(t, "lan", endpoint.ModeLAN.String())
}
