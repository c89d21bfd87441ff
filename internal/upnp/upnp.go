// Package upnp implements external IP discovery and port-mapping control
// over UPnP IGD, atop huin/goupnp with a jackpal/go-nat-pmp fallback for
// routers that only speak NAT-PMP. Mappings are refcounted in a
// process-wide table so multiple controllers can share one external port.
package upnp

import (
	"fmt"
	"net"
	"sync"

	"github.com/huin/goupnp/dcps/internetgateway2"
	natpmp "github.com/jackpal/go-nat-pmp"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voipcore/internal/ipaddr"
)

var log = logging.Logger("upnp")

// Proto is a port-mapping protocol.
type Proto int

const (
	ProtoUDP Proto = iota
	ProtoTCP
)

func (p Proto) wireString() string {
	if p == ProtoTCP {
		return "TCP"
	}
	return "UDP"
}

// igdClient is the subset of goupnp's generated WANIPConnection/PPP clients
// this package needs, satisfied by internetgateway2's generated types.
type igdClient interface {
	GetExternalIPAddress() (string, error)
	AddPortMapping(remoteHost string, externalPort uint16, protocol string, internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error
	DeletePortMapping(remoteHost string, externalPort uint16, protocol string) error
}

// DefaultDescription tags mappings this daemon creates at the router, and
// scopes RemoveAll to them.
const DefaultDescription = "voipcore"

// mappingKey partitions the shared table by protocol and external port.
type mappingKey struct {
	proto Proto
	port  int
}

// globalTable is the process-wide, refcounted mapping table shared by every
// Controller in the process. Each live mapping carries the description it
// was created under, so RemoveAll can release one description's mappings
// without touching those other controllers hold under another.
var globalTable = struct {
	mu   sync.Mutex
	refs map[mappingKey]int
	desc map[mappingKey]string
}{refs: make(map[mappingKey]int), desc: make(map[mappingKey]string)}

// Controller is a thin wrapper over one discovered IGD client.
type Controller struct {
	mu          sync.Mutex
	client      igdClient
	pmp         *natpmp.Client
	localIP     ipaddr.IpAddr
	description string
}

func (c *Controller) describe() string {
	if c.description == "" {
		return DefaultDescription
	}
	return c.description
}

// Discover locates an IGD on the local network via goupnp, falling back to
// NAT-PMP against the default gateway if no UPnP IGD responds.
func Discover(localIP ipaddr.IpAddr) (*Controller, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err == nil && len(clients) > 0 {
		return &Controller{client: clients[0], localIP: localIP, description: DefaultDescription}, nil
	}

	clients2, _, err2 := internetgateway2.NewWANIPConnection2Clients()
	if err2 == nil && len(clients2) > 0 {
		return &Controller{client: clients2[0], localIP: localIP, description: DefaultDescription}, nil
	}

	if localIP.Defined() {
		if gw, gerr := defaultGatewayFor(localIP); gerr == nil {
			return &Controller{pmp: natpmp.NewClient(gw), localIP: localIP, description: DefaultDescription}, nil
		}
	}

	return nil, fmt.Errorf("upnp: no IGD discovered via UPnP or NAT-PMP: %w", err)
}

// defaultGatewayFor guesses the LAN gateway as the .1 host on localIP's
// /24, which holds for the overwhelming majority of consumer IGDs; a more
// precise route-table lookup is left to a future iteration.
func defaultGatewayFor(localIP ipaddr.IpAddr) (net.IP, error) {
	ip4 := localIP.IP().To4()
	if ip4 == nil {
		return nil, fmt.Errorf("upnp: default gateway guess only supports IPv4")
	}
	gw := net.IPv4(ip4[0], ip4[1], ip4[2], 1)
	return gw, nil
}

// ExternalIP queries the router's external address.
func (c *Controller) ExternalIP() (ipaddr.IpAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		s, err := c.client.GetExternalIPAddress()
		if err != nil {
			return ipaddr.IpAddr{}, fmt.Errorf("upnp: GetExternalIPAddress: %w", err)
		}
		addr := ipaddr.Parse(s)
		if !addr.Defined() {
			return ipaddr.IpAddr{}, fmt.Errorf("upnp: router returned unparsable address %q", s)
		}
		return addr, nil
	}
	if c.pmp != nil {
		res, err := c.pmp.GetExternalAddress()
		if err != nil {
			return ipaddr.IpAddr{}, fmt.Errorf("upnp: nat-pmp GetExternalAddress: %w", err)
		}
		b := res.ExternalIPAddress
		return ipaddr.FromNetIP(net.IPv4(b[0], b[1], b[2], b[3]), 0), nil
	}
	return ipaddr.IpAddr{}, fmt.Errorf("upnp: controller has no backend")
}

// AddAnyMapping requests a mapping of internalPort on this host to an
// external port (same as internalPort when sameExternalPort is true,
// otherwise router-chosen), incrementing the shared refcount for that
// (proto, external port) pair. Returns false (not fatal) on rejection,
// matching the non-fatal mapping-rejection policy.
func (c *Controller) AddAnyMapping(internalPort int, proto Proto, sameExternalPort bool, mappedPortOut *int) bool {
	externalPort := internalPort
	if !sameExternalPort {
		externalPort = internalPort // no ephemeral-port search backend available; best-effort same-port request
	}

	key := mappingKey{proto: proto, port: externalPort}
	globalTable.mu.Lock()
	alreadyMapped := globalTable.refs[key] > 0
	globalTable.mu.Unlock()

	if !alreadyMapped {
		if err := c.addPortMapping(internalPort, externalPort, proto); err != nil {
			log.Warnw("upnp mapping rejected", "internal", internalPort, "external", externalPort, "err", err)
			return false
		}
	}

	globalTable.mu.Lock()
	globalTable.refs[key]++
	if _, ok := globalTable.desc[key]; !ok {
		globalTable.desc[key] = c.describe()
	}
	globalTable.mu.Unlock()

	if mappedPortOut != nil {
		*mappedPortOut = externalPort
	}
	return true
}

func (c *Controller) addPortMapping(internalPort, externalPort int, proto Proto) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client.AddPortMapping("", uint16(externalPort), proto.wireString(), uint16(internalPort), c.localIP.ToString(false, false), true, c.describe(), 0)
	}
	if c.pmp != nil {
		protocol := "udp"
		if proto == ProtoTCP {
			protocol = "tcp"
		}
		_, err := c.pmp.AddPortMapping(protocol, internalPort, externalPort, 0)
		return err
	}
	return fmt.Errorf("upnp: controller has no backend")
}

// RemoveMapping decrements the shared refcount for (proto, port); the
// router-side mapping is only removed when the count reaches zero.
func (c *Controller) RemoveMapping(port int, proto Proto) {
	key := mappingKey{proto: proto, port: port}

	globalTable.mu.Lock()
	globalTable.refs[key]--
	remaining := globalTable.refs[key]
	if remaining <= 0 {
		delete(globalTable.refs, key)
		delete(globalTable.desc, key)
	}
	globalTable.mu.Unlock()

	if remaining <= 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.client != nil {
			if err := c.client.DeletePortMapping("", uint16(port), proto.wireString()); err != nil {
				log.Warnw("upnp unmap failed", "port", port, "err", err)
			}
		}
	}
}

// RemoveAll tears down every mapping tagged with description (used on
// daemon shutdown): their refcounts are cleared and the router-side
// mappings deleted. Mappings other controllers hold under a different
// description are left untouched.
func RemoveAll(c *Controller, description string) {
	globalTable.mu.Lock()
	var keys []mappingKey
	for k, d := range globalTable.desc {
		if d == description {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(globalTable.refs, k)
		delete(globalTable.desc, k)
	}
	globalTable.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if c.client != nil {
			if err := c.client.DeletePortMapping("", uint16(k.port), k.proto.wireString()); err != nil {
				log.Warnw("upnp unmap failed", "port", k.port, "err", err)
			}
		}
	}
}

// refCount exposes the live refcount for one (proto, port) pair; used by
// tests to verify invariant 8 without reaching into package internals.
func refCount(proto Proto, port int) int {
	globalTable.mu.Lock()
	defer globalTable.mu.Unlock()
	return globalTable.refs[mappingKey{proto: proto, port: port}]
}
