package upnp

import (
	"strconv"
	"testing"
)

type fakeIGD struct {
	externalIP string
	mapped     map[string]bool
}

func newFakeIGD() *fakeIGD {
	return &fakeIGD{externalIP: "203.0.113.7", mapped: make(map[string]bool)}
}

func (f *fakeIGD) GetExternalIPAddress() (string, error) {
	return f.externalIP, nil
}

func (f *fakeIGD) AddPortMapping(remoteHost string, externalPort uint16, protocol string, internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error {
	f.mapped[protocol+":"+strconv.Itoa(int(externalPort))] = true
	return nil
}

func (f *fakeIGD) DeletePortMapping(remoteHost string, externalPort uint16, protocol string) error {
	delete(f.mapped, protocol+":"+strconv.Itoa(int(externalPort)))
	return nil
}

func newTestController(igd *fakeIGD) *Controller {
	return &Controller{client: igd}
}

// Scenario 6 — UPnP augmentation.
func TestExternalIPAndMapping(t *testing.T) {
	igd := newFakeIGD()
	c := newTestController(igd)

	extIP, err := c.ExternalIP()
	if err != nil {
		t.Fatalf("ExternalIP: %v", err)
	}
	if extIP.ToString(false, false) != "203.0.113.7" {
		t.Fatalf("expected 203.0.113.7, got %s", extIP.ToString(false, false))
	}

	var mapped int
	if !c.AddAnyMapping(40000, ProtoUDP, true, &mapped) {
		t.Fatal("expected mapping to succeed")
	}
	if mapped != 40000 {
		t.Fatalf("expected mapped port 40000, got %d", mapped)
	}
	if !igd.mapped["UDP:40000"] {
		t.Fatal("expected router-side mapping to exist")
	}
}

// Invariant 8 — router-side mapping exists iff live refcount > 0.
func TestRefcountAcrossMultipleControllers(t *testing.T) {
	igd := newFakeIGD()
	c1 := newTestController(igd)
	c2 := newTestController(igd)

	var p1, p2 int
	c1.AddAnyMapping(5000, ProtoUDP, true, &p1)
	c2.AddAnyMapping(5000, ProtoUDP, true, &p2)

	if refCount(ProtoUDP, 5000) != 2 {
		t.Fatalf("expected refcount 2, got %d", refCount(ProtoUDP, 5000))
	}
	if !igd.mapped["UDP:5000"] {
		t.Fatal("expected mapping present while refcount > 0")
	}

	c1.RemoveMapping(5000, ProtoUDP)
	if !igd.mapped["UDP:5000"] {
		t.Fatal("mapping must survive while one controller still holds a reference")
	}

	c2.RemoveMapping(5000, ProtoUDP)
	if igd.mapped["UDP:5000"] {
		t.Fatal("mapping must be removed once refcount reaches zero")
	}
	if refCount(ProtoUDP, 5000) != 0 {
		t.Fatalf("expected refcount 0, got %d", refCount(ProtoUDP, 5000))
	}
}

func TestRemoveAllOnlyReleasesOwnDescription(t *testing.T) {
	igd := newFakeIGD()
	mine := &Controller{client: igd, description: "voipcore-test-a"}
	other := &Controller{client: igd, description: "voipcore-test-b"}

	var p1, p2 int
	mine.AddAnyMapping(7000, ProtoUDP, true, &p1)
	other.AddAnyMapping(7001, ProtoUDP, true, &p2)

	RemoveAll(mine, "voipcore-test-a")

	if igd.mapped["UDP:7000"] {
		t.Fatal("expected the caller's own mapping removed")
	}
	if refCount(ProtoUDP, 7000) != 0 {
		t.Fatalf("expected refcount 0 for the released mapping, got %d", refCount(ProtoUDP, 7000))
	}
	if !igd.mapped["UDP:7001"] {
		t.Fatal("mappings under another description must survive RemoveAll")
	}
	if refCount(ProtoUDP, 7001) != 1 {
		t.Fatalf("expected the other description's refcount untouched, got %d", refCount(ProtoUDP, 7001))
	}

	other.RemoveMapping(7001, ProtoUDP)
}

func TestProtocolPartitioning(t *testing.T) {
	igd := newFakeIGD()
	c := newTestController(igd)

	var udpPort, tcpPort int
	c.AddAnyMapping(6000, ProtoUDP, true, &udpPort)
	c.AddAnyMapping(6000, ProtoTCP, true, &tcpPort)

	if refCount(ProtoUDP, 6000) != 1 || refCount(ProtoTCP, 6000) != 1 {
		t.Fatal("expected independent refcounts per protocol")
	}

	c.RemoveMapping(6000, ProtoUDP)
	if refCount(ProtoTCP, 6000) != 1 {
		t.Fatal("removing the UDP mapping must not affect the TCP mapping")
	}
	c.RemoveMapping(6000, ProtoTCP)
}
