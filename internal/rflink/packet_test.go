package rflink

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		expect Packet // subset of the decoded packet
	}{
		{
			name: "upm esic temperature and humidity",
			line: "20;2D;UPM/Esic;ID=0001;TEMP=00cf;HUM=16;BAT=OK;",
			expect: Packet{
				"protocol":    "upm/esic",
				"temperature": 20.7,
				"humidity":    16,
			},
		},
		{
			name: "negative temperature via sign bit",
			line: "20;36;Alecto V1;ID=0334;TEMP=800d;HUM=33;BAT=OK;",
			expect: Packet{
				"temperature":      -1.3,
				"temperature_unit": "°C",
			},
		},
		{
			name:   "battery state lowercased",
			line:   "20;08;UPM/Esic;ID=1003;RAIN=0010;BAT=OK;",
			expect: Packet{"battery": "ok", "total_rain": 1.6},
		},
		{
			name:   "kaku switch command with id padding",
			line:   "20;46;Kaku;ID=44;SWITCH=4;CMD=OFF;",
			expect: Packet{"id": "000044", "command": "off", "switch": "4"},
		},
		{
			name:   "newkaku group command",
			line:   "20;E0;NewKaku;ID=cac142;SWITCH=1;CMD=ALLOFF;",
			expect: Packet{"id": "cac142", "protocol": "newkaku", "command": "alloff"},
		},
		{
			name: "welcome banner",
			line: "20;00;Nodo RadioFrequencyLink - RFLink Gateway V1.1 - R45;",
			expect: Packet{
				"node":     NodeGateway,
				"hardware": "Nodo RadioFrequencyLink",
				"firmware": "RFLink Gateway",
				"version":  "1.1",
				"revision": "45",
			},
		},
		{
			name:   "version response without protocol field",
			line:   "20;01;VER=1.1;REV=45;BUILD=04;",
			expect: Packet{"version": "1.1", "revision": "45", "build": "04"},
		},
		{
			name:   "pong",
			line:   "20;01;PONG;",
			expect: Packet{"ping": "pong"},
		},
		{
			name: "status response keeps raw toggles",
			line: "20;02;STATUS;setRF433=ON;setNodoNRF=OFF;setMilight=OFF;" +
				"setLivingColors=OFF;setAnsluta=OFF;setGPIO=OFF;setBLE=OFF;" +
				"setMysensors=OFF;",
			expect: Packet{"setrf433": "on", "setmysensors": "off"},
		},
		{
			name:   "cmd unknown response",
			line:   "20;01;CMD UNKNOWN;",
			expect: Packet{"response": "command_unknown", "ok": false},
		},
		{
			name:   "ok response",
			line:   "20;02;OK;",
			expect: Packet{"ok": true},
		},
		{
			name:   "enumerated weather fields",
			line:   "20;01;Alecto V4;ID=0;BFORECAST=1;HSTATUS=0",
			expect: Packet{"weather_forecast": "sunny", "humidity_status": "normal"},
		},
		{
			name: "rts cover command",
			line: "20;05;RTS;ID=147907;SWITCH=01;CMD=UP;",
			expect: Packet{
				"id": "147907", "switch": "01",
				"protocol": "rts", "command": "up",
			},
		},
		{
			name:   "informational gateway message",
			line:   "20;00;Internal Pullup on RF-in disabled;",
			expect: Packet{"message": "Internal Pullup on RF-in disabled"},
		},
		{
			name:   "value containing equals sign",
			line:   "20;9A;FA500;ID=0000db9e;SWITCH=01;CMD=SET_LEVEL=2;",
			expect: Packet{"command": "set_level=2"},
		},
		{
			name:   "unregistered family decodes as unknown",
			line:   "20;01;Imagintronix;ID=0001;TEMP=00dd;",
			expect: Packet{"protocol": UnknownProtocol, "temperature": 22.1},
		},
		{
			name:   "wind direction index to degrees",
			line:   "20;47;Oregon Wind;ID=1a89;WINDIR=0002;WINSP=0030;BAT=OK;",
			expect: Packet{"winddirection": 45.0, "windspeed": 4.8},
		},
	}

	codec := NewCodec(DefaultRegistry())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := codec.Decode(tt.line)
			if err != nil {
				t.Fatalf("Decode(%q) failed: %v", tt.line, err)
			}
			for key, want := range tt.expect {
				if got, ok := p[key]; !ok || !reflect.DeepEqual(got, want) {
					t.Errorf("Decode(%q)[%q] = %v (%T), want %v (%T)",
						tt.line, key, got, got, want, want)
				}
			}
		})
	}
}

func TestDecodeRejectsMalformedLines(t *testing.T) {
	codec := NewCodec(DefaultRegistry())
	for _, line := range []string{"", "20;01", "99;01;Kaku;ID=44;"} {
		if _, err := codec.Decode(line); !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("Decode(%q) error = %v, want ErrInvalidPacket", line, err)
		}
	}
}

func TestDecodeSkipsUnparsableFields(t *testing.T) {
	codec := NewCodec(DefaultRegistry())

	var diagField string
	codec.SetDiagnostics(func(field, raw string, err error) {
		diagField = field
	})

	p, err := codec.Decode("20;2D;UPM/Esic;ID=0001;TEMP=zzzz;HUM=16;")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := p["temperature"]; ok {
		t.Error("unparsable temperature should have been skipped")
	}
	if got := p["humidity"]; got != 16 {
		t.Errorf("humidity = %v, want 16", got)
	}
	if diagField != "temp" {
		t.Errorf("diagnostic field = %q, want %q", diagField, "temp")
	}
}

// Kaku id padding restores dropped zeroes; it must not invent an id for
// a packet that never carried one.
func TestDecodeKakuWithoutIDStaysBare(t *testing.T) {
	codec := NewCodec(DefaultRegistry())

	p, err := codec.Decode("20;0B;Kaku;SWITCH=1;CMD=ON;")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if id, ok := p["id"]; ok {
		t.Errorf("id = %v, want no id field", id)
	}

	p, err = DecodeTX("10;Kaku;;")
	if err != nil {
		t.Fatalf("DecodeTX failed: %v", err)
	}
	if id, ok := p["id"]; ok {
		t.Errorf("DecodeTX id = %v, want no id field", id)
	}
}

func TestValidPacket(t *testing.T) {
	valid := []string{
		"20;2D;UPM/Esic;ID=0001;TEMP=00cf;HUM=16;BAT=OK;",
		"20;00;Nodo RadioFrequencyLink - RFLink Gateway V1.1 - R46;",
		"20;01;PONG;",
		"20;02;OK;",
		"20;05;RTS;ID=147907;SWITCH=01;CMD=UP;",
		"11;20;0B;NewKaku;ID=000005;SWITCH=2;CMD=ON;",
		"10;NewKaku;00cac142;3;ON;",
		"10;MiLightv1;F746;00;3c00;ON;",
		"10;REBOOT;",
		"10;RTSRECCLEAN=9;",
		"20;00;setGPIO=ON;",
		"20;06;RFDEBUG=ON;",
		"20;93;Debug;RTS P1;a63f33003cf000665a5a;",
	}
	invalid := []string{
		"",
		"20;00;",
		"20;00;N20;00;Nodo RadioFrequencyLink - RFLink Gateway V1.1 - R46;",
		"random serial noise",
		"20;2D;UPM/Esic;ID=0001;TEMP=00cf", // missing trailing delimiter
	}

	for _, line := range valid {
		if !ValidPacket(line) {
			t.Errorf("ValidPacket(%q) = false, want true", line)
		}
	}
	for _, line := range invalid {
		if ValidPacket(line) {
			t.Errorf("ValidPacket(%q) = true, want false", line)
		}
	}
}

func TestEncode(t *testing.T) {
	codec := NewCodec(DefaultRegistry())

	tests := []struct {
		name    string
		packet  Packet
		want    string
		wantErr error
	}{
		{
			name: "switch command",
			packet: Packet{
				"protocol": "newkaku", "id": "000001",
				"switch": "01", "command": "on",
			},
			want: "10;newkaku;000001;01;on;",
		},
		{
			name:   "rfdebug control",
			packet: Packet{"protocol": "rfdebug", "command": "on"},
			want:   "10;RFDEBUG=on;",
		},
		{
			name: "unknown protocol is a caller error",
			packet: Packet{
				"protocol": "nosuchfamily", "id": "01",
				"switch": "1", "command": "on",
			},
			wantErr: ErrUnknownProtocol,
		},
		{
			name:    "missing device fields",
			packet:  Packet{"protocol": "newkaku", "command": "on"},
			wantErr: ErrEncodingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Encode(tt.packet)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Encode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Encoding a command derived from a device id and decoding the gateway's
// echo of it must land on the same id and command.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec(DefaultRegistry())

	for _, deviceID := range []string{
		"newkaku_00cac142_3",
		"kaku_000044_4",
		"rts_147907_01",
		"x10_41_1",
		// Multi-word families serialize with the space stripped; the id
		// must still map back to the registered wire name.
		"conradrsl_01_2",
		"homeconfort_01b523_2",
		"byronmp_112233_01",
	} {
		p := DeserializePacketID(deviceID)
		p["command"] = "on"

		line, err := codec.Encode(p)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", deviceID, err)
		}

		// The gateway echoes the command back as a device packet.
		echoed, err := DecodeTX(line)
		if err != nil {
			t.Fatalf("DecodeTX(%q) failed: %v", line, err)
		}
		if got := SerializePacketID(echoed); got != deviceID {
			t.Errorf("round trip id = %q, want %q", got, deviceID)
		}
		if echoed.Command() != "on" {
			t.Errorf("round trip command = %q, want %q", echoed.Command(), "on")
		}
	}
}

func TestDecodeTX(t *testing.T) {
	p, err := DecodeTX("10;Kaku;44;4;OFF;")
	if err != nil {
		t.Fatalf("DecodeTX failed: %v", err)
	}
	want := Packet{
		"node": NodeMaster, "protocol": "kaku",
		"id": "000044", "switch": "4", "command": "OFF",
	}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("DecodeTX = %v, want %v", p, want)
	}

	if _, err := DecodeTX("10;Kaku"); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("DecodeTX short line error = %v, want ErrInvalidPacket", err)
	}
}
