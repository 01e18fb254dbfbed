package rflink

import (
	"fmt"
	"regexp"
	"strings"
)

// Protocol line constants.
const (
	// Delimiter separates fields within a packet line.
	Delimiter = ";"

	// Terminator ends every packet line on the wire.
	Terminator = "\r\n"

	// UnknownProtocol is the protocol value assigned when a packet's
	// family token matches no registered decoder.
	UnknownProtocol = "unknown"
)

// Node names identifying the packet source, decoded from the 2-digit
// node code that starts every line.
const (
	NodeMaster  = "master"  // 10: sent to the gateway
	NodeEcho    = "echo"    // 11: echoed device-create packet
	NodeGateway = "gateway" // 20: sent by the gateway
)

// nodeNames maps the wire node codes to their names.
var nodeNames = map[string]string{
	"10": NodeMaster,
	"11": NodeEcho,
	"20": NodeGateway,
}

// switchCommandTemplate is the outbound switch command line format.
const switchCommandTemplate = "10;%s;%s;%s;%s;"

// packetIDSep joins the components of a serialized device id.
const packetIDSep = "_"

// Header validation pattern. Each alternative matches one packet shape the
// gateway (or a master) is known to emit; anything else is treated as
// leftovers in the serial buffer and dropped before decoding.
var packetHeaderRe = func() *regexp.Regexp {
	const (
		sequence       = "[0-9a-zA-Z]{2}"
		protocol       = "[^;]{3,}"
		address        = "[0-9a-zA-Z]+"
		button         = "[0-9a-zA-Z]+"
		value          = "[0-9a-zA-Z]+"
		command        = "[0-9a-zA-Z]+"
		controlCommand = "[A-Z]+(=[A-Z0-9]+)?"
		data           = "[a-zA-Z0-9;=_]+"
		debugDataRTS   = "[a-zA-Z0-9;=_ ]+"
		debugData      = "[a-zA-Z0-9,;=_()]+"
		responses      = "OK"
		version        = `[0-9a-zA-Z \.-]+`
		message        = `[0-9a-zA-Z \._-]+`
	)

	join := func(parts ...string) string { return strings.Join(parts, Delimiter) }

	device := join("20", sequence, protocol, data)
	alternatives := []string{
		join("20", sequence, version),      // welcome banner
		"11" + Delimiter + device,          // echoed device-create packet
		join("20", sequence, responses),    // command acknowledgement
		device,                             // regular device packet
		join("10", protocol, address, button, command),
		join("10", protocol, address, button, value, command),
		join("10", protocol, address, command),
		join("10", protocol, address),
		join("10", controlCommand),         // REBOOT, RTSRECCLEAN=9, ...
		join("20", sequence, "DEBUG", debugData),
		join("20", sequence, message),      // generic gateway message
		join("20", sequence, "RFDEBUG=ON"),
		join("20", sequence, "RFUDEBUG=ON"),
		join("20", sequence, "RFDEBUG=OFF"),
		join("20", sequence, "RFUDEBUG=OFF"),
		join("20", sequence, "QRFDEBUG=ON"),
		join("20", sequence, "QRFDEBUG=OFF"),
		join("20", sequence, "setGPIO=OFF"),
		join("20", sequence, "setGPIO=ON"),
		join("20", sequence, "Debug", debugDataRTS),
	}

	return regexp.MustCompile("^(" + strings.Join(alternatives, "|") + ");$")
}()

// bannerRe extracts hardware and firmware identification from the
// gateway's self-identification banner, e.g.
// "Nodo RadioFrequencyLink - RFLink Gateway V1.1 - R46".
var bannerRe = regexp.MustCompile(
	`(?P<hardware>[a-zA-Z\s]+) - (?P<firmware>[a-zA-Z\s]+) ` +
		`V(?P<version>[0-9\.]+) - R(?P<revision>[0-9\.]+)`)

// ValidPacket reports whether a framed line (terminator stripped) matches
// one of the known packet shapes.
//
// Leftover bytes from a reconnected serial buffer can glue two lines
// together; those fail validation and must be dropped, not decoded:
//
//	ValidPacket("20;08;UPM/Esic;ID=1003;RAIN=0010;BAT=OK;") == true
//	ValidPacket("20;00;N20;00;Nodo RadioFrequencyLink - ...") == false
func ValidPacket(line string) bool {
	return packetHeaderRe.MatchString(line)
}

// RawPacket is one framed line exactly as received, plus its field split.
// It is never mutated after framing.
type RawPacket struct {
	// Line is the verbatim packet text, terminator stripped.
	Line string

	// Fields are the Line's delimiter-separated fields, trailing empty
	// field (from the trailing delimiter) removed.
	Fields []string
}

// NewRawPacket frames a line into a RawPacket.
func NewRawPacket(line string) RawPacket {
	return RawPacket{
		Line:   line,
		Fields: strings.Split(strings.TrimSuffix(line, Delimiter), Delimiter),
	}
}

// Packet is a decoded packet: normalized field names mapped to interpreted
// values. String fields stay strings; translated measurements become int or
// float64. Every packet carries "node"; recognized device packets carry
// "protocol" and usually "id". Unrecognized structure never makes decoding
// fail: fields are preserved and "protocol" stays "unknown".
type Packet map[string]any

// str returns a string field, or "" when absent or not a string.
func (p Packet) str(key string) string {
	v, _ := p[key].(string)
	return v
}

// Node returns the packet source (master, echo or gateway).
func (p Packet) Node() string { return p.str("node") }

// Protocol returns the device family name, or "unknown".
func (p Packet) Protocol() string { return p.str("protocol") }

// ID returns the device instance identifier.
func (p Packet) ID() string { return p.str("id") }

// Switch returns the switch/unit number within a device.
func (p Packet) Switch() string { return p.str("switch") }

// Command returns the switch command (on, off, allon, alloff, ...).
func (p Packet) Command() string { return p.str("command") }

// IsResponse reports whether this is a command response packet
// (20;xx;OK; or 20;xx;CMD UNKNOWN;).
func (p Packet) IsResponse() bool {
	_, ok := p["ok"]
	return ok
}

// OK reports whether a response packet acknowledged the command.
func (p Packet) OK() bool {
	v, _ := p["ok"].(bool)
	return v
}

// FieldDiagnostic is invoked when a single field's value fails its numeric
// translation during decode. The field is skipped; the rest of the packet
// still decodes (fail-open).
type FieldDiagnostic func(field, raw string, err error)

// Codec decodes packet lines into Packets and encodes outbound commands,
// consulting a Registry to recognize protocol families.
//
// A Codec is stateless apart from its registry and safe for concurrent use.
type Codec struct {
	registry *Registry
	diag     FieldDiagnostic
}

// NewCodec creates a Codec over the given registry. A nil registry means
// no families are recognized and every device packet decodes with
// protocol "unknown".
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// SetDiagnostics sets the callback for per-field translation failures.
func (c *Codec) SetDiagnostics(diag FieldDiagnostic) {
	c.diag = diag
}

// Decode breaks one validated line down into a Packet.
//
// The header's protocol token selects the interpretation: KEY=value tokens
// fold into the attribute list, the welcome banner and the PONG/OK/
// CMD UNKNOWN/DEBUG responses are special-cased, and anything else is a
// device family name looked up in the registry.
//
// Returns:
//   - Packet: decoded fields; never nil on success
//   - error: ErrInvalidPacket when the line lacks the node/seq/payload shape
func (c *Codec) Decode(line string) (Packet, error) {
	parts := strings.SplitN(line, Delimiter, 4)
	if len(parts) < 4 {
		return nil, fmt.Errorf("%w: too few fields in %q", ErrInvalidPacket, line)
	}
	nodeCode, proto, attrs := parts[0], parts[2], parts[3]

	node, ok := nodeNames[nodeCode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node code %q", ErrInvalidPacket, nodeCode)
	}

	p := Packet{"node": node, "protocol": UnknownProtocol}

	switch {
	case strings.Contains(proto, "="):
		// No protocol field: the version/status responses start their
		// KEY=value list straight after the header.
		attrs = proto + Delimiter + attrs

	case strings.Contains(proto, "RFLink Gateway"):
		for k, v := range parseBanner(proto) {
			p[k] = v
		}

	case proto == "PONG":
		p["ping"] = strings.ToLower(proto)

	case strings.EqualFold(proto, "debug"):
		p["protocol"] = "debug"
		if strings.HasPrefix(attrs, "RTS P1") {
			fields := strings.Split(strings.Trim(attrs, Delimiter), Delimiter)
			if len(fields) > 1 {
				p["rts_p1"] = fields[1]
			}
		} else if len(line) >= 5 {
			p["tm"] = line[3:5]
		}

	case proto == "CMD UNKNOWN":
		p["response"] = "command_unknown"
		p["ok"] = false

	case proto == "OK":
		p["ok"] = true

	case nodeCode == "20" && attrs == "":
		// Generic informational message from the gateway.
		p["message"] = proto

	default:
		name := strings.ToLower(proto)
		if c.registry.Known(name) {
			p["protocol"] = name
		}
	}

	c.decodeAttrs(p, attrs)

	// The firmware drops leading zeroes from Kaku addresses; restore them
	// so ids stay stable across packets. A packet without an id keeps
	// none rather than gaining a fabricated one.
	if p.Protocol() == "kaku" && p.ID() != "" && len(p.ID()) != 6 {
		p["id"] = "0000" + p.ID()
	}

	return p, nil
}

// decodeAttrs folds the KEY=value attribute list into the packet, applying
// per-field value translations and attaching units.
func (c *Codec) decodeAttrs(p Packet, attrs string) {
	for _, attr := range strings.Split(strings.Trim(attrs, Delimiter), Delimiter) {
		if attr == "" || !strings.Contains(attr, "=") {
			continue
		}
		kv := strings.SplitN(strings.ToLower(attr), "=", 2)
		key, raw := kv[0], kv[1]

		var value any = raw
		if translate, ok := valueTranslations[key]; ok {
			v, err := translate(raw)
			if err != nil {
				if c.diag != nil {
					c.diag(key, raw, err)
				}
				continue
			}
			value = v
		}

		name := key
		if long, ok := packetFields[key]; ok {
			name = long
		}
		p[name] = value

		if unit, ok := fieldUnits[key]; ok {
			p[name+"_unit"] = unit
		}
	}
}

// parseBanner extracts hardware/firmware name and version from the
// gateway's welcome banner.
func parseBanner(banner string) map[string]string {
	match := bannerRe.FindStringSubmatch(banner)
	if match == nil {
		return nil
	}
	fields := make(map[string]string, 4)
	for i, name := range bannerRe.SubexpNames() {
		if name != "" {
			fields[name] = match[i]
		}
	}
	return fields
}

// Encode constructs an outbound packet line from a command packet.
//
// The packet must carry protocol, id, switch and command fields; the
// RFDEBUG/RFUDEBUG/QRFDEBUG control protocols only need a command.
// Encoding is total for known protocols and fails loudly otherwise: a
// command whose protocol is not registered is a caller error, never
// silently dropped.
func (c *Codec) Encode(p Packet) (string, error) {
	switch p.Protocol() {
	case "rfdebug":
		return "10;RFDEBUG=" + p.Command() + ";", nil
	case "rfudebug":
		return "10;RFUDEBUG=" + p.Command() + ";", nil
	case "qrfdebug":
		return "10;QRFDEBUG=" + p.Command() + ";", nil
	}

	if p.Protocol() == "" || p.Protocol() == UnknownProtocol || !c.registry.Known(p.Protocol()) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, p.Protocol())
	}
	if p.ID() == "" || p.Switch() == "" || p.Command() == "" {
		return "", fmt.Errorf("%w: switch command needs id, switch and command (got %v)",
			ErrEncodingFailed, p)
	}

	return fmt.Sprintf(switchCommandTemplate, p.Protocol(), p.ID(), p.Switch(), p.Command()), nil
}

// DecodeTX breaks down an outbound (10;...) command line as submitted by a
// relay client, where the device fields are positional: protocol, id,
// switch, command.
func DecodeTX(line string) (Packet, error) {
	parts := strings.SplitN(line, Delimiter, 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: too few fields in %q", ErrInvalidPacket, line)
	}
	nodeCode, proto, attrs := parts[0], parts[1], parts[2]

	node, ok := nodeNames[nodeCode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node code %q", ErrInvalidPacket, nodeCode)
	}

	p := Packet{"node": node, "protocol": strings.ToLower(proto)}

	positional := []string{"id", "switch", "command"}
	i := 0
	for _, attr := range strings.Split(strings.Trim(attrs, Delimiter), Delimiter) {
		if attr == "" || i >= len(positional) {
			continue
		}
		p[positional[i]] = attr
		i++
	}

	if p.Protocol() == "kaku" && p.ID() != "" && len(p.ID()) != 6 {
		p["id"] = "0000" + p.ID()
	}

	return p, nil
}
