package rflink

import (
	"fmt"
	"sort"
)

// Event is a normalized, device-keyed fact derived from a packet: either a
// switch state change (Command set) or a single measurement (Sensor, Value
// and optionally Unit set). ID is never empty.
type Event struct {
	// ID is the stable device key: {protocol}_{id}_{switch} for switches,
	// {protocol}_{id}_{measurement} for sensor readings.
	ID string

	// Command is the switch command (on, off, allon, alloff, up, down,
	// stop, pair) for switch events, empty otherwise.
	Command string

	// Sensor is the long measurement name (temperature, humidity, ...)
	// for sensor events, empty otherwise.
	Sensor string

	// Value is the converted measurement value (float64 or int for
	// numeric fields, string for enumerations such as battery state).
	Value any

	// Unit is the measurement unit from the fixed unit table, when one
	// applies.
	Unit string
}

// String renders the event the way the CLI prints it.
func (e Event) String() string {
	switch {
	case e.Command != "":
		return fmt.Sprintf("%-32s %s", e.ID, e.Command)
	case e.Unit != "":
		return fmt.Sprintf("%-32s %v %s", e.ID, e.Value, e.Unit)
	default:
		return fmt.Sprintf("%-32s %v", e.ID, e.Value)
	}
}

// fieldDecoder is the generic decoder shared by every stock family: the
// gateway firmware has already normalized payloads into the common field
// vocabulary, so switch packets map to one command event and sensor
// packets map to one event per recognized measurement.
type fieldDecoder struct{}

// Decode implements ProtocolDecoder.
//
// Sensor events are emitted in sorted field-name order so that a packet
// always yields the same event sequence.
func (fieldDecoder) Decode(p Packet) []Event {
	id := SerializePacketID(p)

	// A switch packet carries exactly one event.
	if cmd := p.Command(); cmd != "" {
		return []Event{{ID: id, Command: cmd}}
	}

	names := make([]string, 0, len(p))
	for name := range p {
		if _, ok := fieldAbbrev[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	events := make([]Event, 0, len(names))
	for _, name := range names {
		unit, _ := p[name+"_unit"].(string)
		events = append(events, Event{
			ID:     id + packetIDSep + fieldAbbrev[name],
			Sensor: name,
			Value:  p[name],
			Unit:   unit,
		})
	}
	return events
}

// Events derives the ordered event sequence for a decoded packet by
// looking up its family's decoder. Packets whose protocol is unknown (or
// not a device packet at all) yield no events; they remain visible to
// raw-packet observers.
func (c *Codec) Events(p Packet) []Event {
	d, ok := c.registry.Lookup(p.Protocol())
	if !ok {
		return nil
	}
	return d.Decode(p)
}
