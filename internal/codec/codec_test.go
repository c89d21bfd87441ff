package codec

import "testing"

func TestSystemSingletonStable(t *testing.T) {
	r1 := System()
	r2 := System()
	if r1 != r2 {
		t.Fatal("System() should return the same Registry instance")
	}
	a1 := r1.All()
	a2 := r2.All()
	if len(a1) != len(a2) {
		t.Fatalf("enumeration order changed across calls: %d vs %d", len(a1), len(a2))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("enumeration order differs at %d: %+v vs %+v", i, a1[i], a2[i])
		}
	}
}

func TestIDsForMask(t *testing.T) {
	r := System()
	audio := r.IDsFor(MaskAudio)
	video := r.IDsFor(MaskVideo)
	both := r.IDsFor(MaskAudio | MaskVideo)
	if len(audio)+len(video) != len(both) {
		t.Fatalf("audio(%d)+video(%d) != both(%d)", len(audio), len(video), len(both))
	}
	for _, id := range audio {
		c, ok := r.FindByID(id)
		if !ok || c.MediaType != MediaAudio {
			t.Fatalf("id %d not classified as audio", id)
		}
	}
}

func TestFindByIDMissing(t *testing.T) {
	if _, ok := System().FindByID(-1); ok {
		t.Fatal("expected no codec with id -1")
	}
}
