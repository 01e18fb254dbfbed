package rflink

import (
	"regexp"
	"strings"
	"sync"
)

// idSanitizeRe strips everything that cannot appear in a device id
// component from a protocol name.
var idSanitizeRe = regexp.MustCompile("[^a-z0-9_]+")

// translationTable maps between wire protocol names (lowercase) and their
// id-safe serialized forms. Sanitizing strips spaces and punctuation, so
// the reverse direction needs a lookup, not reconstruction: the table is
// seeded with every stock firmware family and learns any other name on
// first serialization, keeping both directions lossless for families
// registered after init.
type translationTable struct {
	mu  sync.RWMutex
	fwd map[string]string
	rev map[string]string
}

// learn records the sanitized form of one lowercase name, both ways.
func (t *translationTable) learn(lower string) string {
	serial := idSanitizeRe.ReplaceAllString(lower, "")
	t.mu.Lock()
	t.fwd[lower] = serial
	t.rev[serial] = lower
	t.mu.Unlock()
	return serial
}

func (t *translationTable) serialize(name string) string {
	lower := strings.ToLower(name)
	t.mu.RLock()
	serial, ok := t.fwd[lower]
	t.mu.RUnlock()
	if ok {
		return serial
	}
	return t.learn(lower)
}

func (t *translationTable) reverse(serial string) string {
	t.mu.RLock()
	name, ok := t.rev[serial]
	t.mu.RUnlock()
	if ok {
		return name
	}
	return serial
}

var protocolTranslations = func() *translationTable {
	t := &translationTable{
		fwd: make(map[string]string, len(defaultFamilies)),
		rev: make(map[string]string, len(defaultFamilies)),
	}
	for _, name := range defaultFamilies {
		t.learn(name)
	}
	return t
}()

// serializeProtocol returns the id-safe form of a protocol name.
func serializeProtocol(name string) string {
	return protocolTranslations.serialize(name)
}

// reverseProtocol returns the wire protocol name for a serialized form,
// falling back to the serialized form itself for names that never needed
// translation.
func reverseProtocol(serial string) string {
	return protocolTranslations.reverse(serial)
}

// SerializePacketID derives the stable device key for a packet:
// "{protocol}_{id}_{switch}" with absent components omitted. Packets with
// an unknown protocol serialize under the "rflink" umbrella id.
//
//	SerializePacketID(Packet{"protocol": "newkaku", "id": "000001", "switch": "01"})
//	// "newkaku_000001_01"
//	SerializePacketID(Packet{"protocol": "ikea koppla", "id": "000080", "switch": "0"})
//	// "ikeakoppla_000080_0"
func SerializePacketID(p Packet) string {
	protocol := serializeProtocol(p.Protocol())
	if protocol == UnknownProtocol {
		protocol = "rflink"
	}

	components := make([]string, 0, 3)
	for _, c := range []string{protocol, p.ID(), p.Switch()} {
		if c != "" {
			components = append(components, c)
		}
	}
	return strings.Join(components, packetIDSep)
}

// DeserializePacketID splits a device key back into protocol, id and
// switch fields. Protocol names may themselves contain underscores
// (dooya_v4), so the id and switch are taken from the right.
func DeserializePacketID(deviceID string) Packet {
	if deviceID == "rflink" {
		return Packet{"protocol": UnknownProtocol}
	}

	rest := deviceID
	var tail []string // id, switch - collected right to left
	for range 2 {
		idx := strings.LastIndex(rest, packetIDSep)
		if idx < 0 {
			break
		}
		tail = append([]string{rest[idx+1:]}, tail...)
		rest = rest[:idx]
	}

	p := Packet{"protocol": reverseProtocol(rest)}
	if len(tail) > 0 {
		p["id"] = tail[0]
	}
	if len(tail) > 1 {
		p["switch"] = tail[1]
	}
	return p
}
