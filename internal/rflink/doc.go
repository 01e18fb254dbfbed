// Package rflink implements the RFLink gateway line protocol.
//
// The RFLink gateway is a 433MHz transceiver that reports decoded sensor
// and switch packets over a serial or TCP byte stream, one CR-LF terminated
// ASCII line per packet, and accepts switch commands in the same format.
//
// The package is layered bottom-up:
//
//   - FrameSplitter turns arbitrary byte chunks into complete packet lines.
//   - Codec decodes a line into a Packet (and encodes outbound commands),
//     consulting a Registry of known protocol families.
//   - The Registry maps a protocol family name to a ProtocolDecoder that
//     turns a decoded Packet into zero or more Events.
//   - Session owns one Transport, runs the receive loop through the layers
//     above, serializes outbound command writes, and reconnects with
//     bounded exponential backoff when the transport drops.
//
// Multiple Sessions to different gateways can coexist in one process;
// nothing in this package holds mutable global state.
//
// # Wire format
//
// Packets look like:
//
//	20;06;NewKaku;ID=008440e6;SWITCH=a;CMD=OFF;
//	20;2D;UPM/Esic;ID=0001;TEMP=00cf;HUM=16;BAT=OK;
//	10;newkaku;008440e6;a;off;
//
// The two leading fields are a node code (10 to the gateway, 20 from it,
// 11 echo) and a sequence number. Remaining fields are either KEY=value
// pairs or positional, depending on direction. Hex-coded measurements use
// the gateway's fixed-point convention (sign bit 15, scale 0.1 for
// temperature-class fields).
package rflink
