// Package codec is the process-wide catalog of system codecs: a
// lazily-initialized singleton enumerating the audio and video codecs the
// media backend supplies, in a stable order, identified by stable ids.
package codec

import "sync"

// MediaType classifies a SystemCodec.
type MediaType int

const (
	MediaUndefined MediaType = iota
	MediaAudio
	MediaVideo
)

// MediaMask is a bitmask union of MediaType values, used to restrict
// queries to audio, video, or both.
type MediaMask int

const (
	MaskAudio MediaMask = 1 << iota
	MaskVideo
)

func (m MediaMask) includes(t MediaType) bool {
	switch t {
	case MediaAudio:
		return m&MaskAudio != 0
	case MediaVideo:
		return m&MaskVideo != 0
	default:
		return false
	}
}

// Kind classifies what directions a codec entry supports.
type Kind int

const (
	KindUndefined Kind = iota
	KindEncoder
	KindDecoder
	KindEncoderDecoder
)

// SystemCodec is an immutable catalog entry. Created at daemon start, never
// mutated afterward.
type SystemCodec struct {
	ID                int
	Name              string
	MediaType         MediaType
	Kind              Kind
	DefaultSampleRate int // audio only
	DefaultBitrate    int // video, or audio fallback
}

// Registry enumerates the audio and video codecs supplied by the media
// backend, in the backend's stable enumeration order.
type Registry struct {
	mu  sync.Mutex
	all []SystemCodec
}

var (
	singleton     *Registry
	singletonOnce sync.Once
)

// System returns the process-wide lazily-initialized Registry singleton.
func System() *Registry {
	singletonOnce.Do(func() {
		singleton = newDefaultRegistry()
	})
	return singleton
}

// newDefaultRegistry seeds the catalog the core daemon would otherwise
// query from the underlying media library. IDs are stable across the
// process lifetime.
func newDefaultRegistry() *Registry {
	r := &Registry{}
	r.all = []SystemCodec{
		{ID: 0, Name: "PCMU", MediaType: MediaAudio, Kind: KindEncoderDecoder, DefaultSampleRate: 8000, DefaultBitrate: 64},
		{ID: 8, Name: "PCMA", MediaType: MediaAudio, Kind: KindEncoderDecoder, DefaultSampleRate: 8000, DefaultBitrate: 64},
		{ID: 9, Name: "G722", MediaType: MediaAudio, Kind: KindEncoderDecoder, DefaultSampleRate: 16000, DefaultBitrate: 64},
		{ID: 111, Name: "opus", MediaType: MediaAudio, Kind: KindEncoderDecoder, DefaultSampleRate: 48000, DefaultBitrate: 32},
		{ID: 96, Name: "H264", MediaType: MediaVideo, Kind: KindEncoderDecoder, DefaultBitrate: 1500},
		{ID: 97, Name: "VP8", MediaType: MediaVideo, Kind: KindEncoderDecoder, DefaultBitrate: 1500},
	}
	return r
}

// All returns every SystemCodec in enumeration order.
func (r *Registry) All() []SystemCodec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SystemCodec, len(r.all))
	copy(out, r.all)
	return out
}

// IDsFor returns the ids of codecs matching mask, in enumeration order.
func (r *Registry) IDsFor(mask MediaMask) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for _, c := range r.all {
		if mask.includes(c.MediaType) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// FindByID returns the SystemCodec with the given id, if any.
func (r *Registry) FindByID(id int) (SystemCodec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.all {
		if c.ID == id {
			return c, true
		}
	}
	return SystemCodec{}, false
}
