package rflink

// ProtocolDecoder turns one decoded Packet of a recognized device family
// into its derived events. Implementations must be pure: no side effects,
// deterministic output for the same packet.
type ProtocolDecoder interface {
	Decode(p Packet) []Event
}

// Registry maps protocol family names (as decoded from the packet header,
// lowercase) to their decoders. It is built once at startup and read-only
// afterwards, so lookups need no locking.
type Registry struct {
	decoders map[string]ProtocolDecoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]ProtocolDecoder)}
}

// Register adds a decoder for a family name. Registering the same name
// twice replaces the earlier decoder.
func (r *Registry) Register(name string, d ProtocolDecoder) {
	r.decoders[name] = d
}

// Known reports whether a family name has a registered decoder.
// Safe on a nil registry.
func (r *Registry) Known(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.decoders[name]
	return ok
}

// Lookup returns the decoder for a family name.
func (r *Registry) Lookup(name string) (ProtocolDecoder, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.decoders[name]
	return d, ok
}

// defaultFamilies are the device families the stock RFLink firmware
// decodes. All share the generic field decoder: the firmware has already
// normalized every family's payload into the common KEY=value vocabulary,
// so per-family logic reduces to membership in this set.
var defaultFamilies = []string{
	// switches and remotes
	"x10",
	"kaku",
	"newkaku",
	"homeeasy",
	"ab400d",
	"waveman",
	"impuls",
	"energenie",
	"eurodomest",
	"conrad rsl",
	"blyss",
	"home confort",
	"powerfix",
	"tristate",
	"ikea koppla",
	"livolo",
	"ev1527",
	"selectplus",
	"doorbell",
	"byron sx",
	"byron mp",
	"deltronic",
	"fa20rf",
	"chuango",
	"plieger york",
	"smartwares",
	"mertik",
	"rts",
	"milightv1",
	"milightv2",
	// weather and utility sensors
	"alecto v1",
	"alecto v2",
	"alecto v3",
	"alecto v4",
	"upm/esic",
	"oregon temphygro",
	"oregon bthr",
	"oregon rain",
	"oregon rain2",
	"oregon wind",
	"oregon wind2",
	"oregon uvn128/138",
	"xiron",
	"cresta",
	"lacrosse",
	"lacrossev2",
	"auriol",
	"mebus",
	"hideki",
}

// DefaultRegistry builds a registry with every stock firmware family
// wired to the generic field decoder.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	d := fieldDecoder{}
	for _, name := range defaultFamilies {
		r.Register(name, d)
	}
	return r
}
