package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/rflink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/rflink-core/internal/rflink"
)

// fakeBroker records publishes and captures the command subscription.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishCall
	handler   mqtt.MessageHandler
	subTopic  string
	unsubbed  []string
}

type publishCall struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishCall{topic, string(payload), qos, retained})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subTopic = topic
	f.handler = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, topic)
	return nil
}

func (f *fakeBroker) IsConnected() bool { return true }

func (f *fakeBroker) calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

// fakeSession captures registered observers and sent commands.
type fakeSession struct {
	mu      sync.Mutex
	onEvent func(rflink.Event)
	onState func(rflink.ConnState)
	sent    []rflink.Command
	sendErr error
}

func (f *fakeSession) OnEvent(fn func(rflink.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEvent = fn
}

func (f *fakeSession) OnStateChange(fn func(rflink.ConnState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeSession) Send(cmd rflink.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func startTestBridge(t *testing.T, opts Options) (*Bridge, *fakeBroker, *fakeSession) {
	t.Helper()

	broker := &fakeBroker{}
	session := &fakeSession{}
	opts.Session = session
	opts.MQTT = broker

	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b, broker, session
}

func TestNew_RequiresSessionAndClient(t *testing.T) {
	if _, err := New(Options{MQTT: &fakeBroker{}}); err == nil {
		t.Error("New() without session should fail")
	}
	if _, err := New(Options{Session: &fakeSession{}}); err == nil {
		t.Error("New() without mqtt client should fail")
	}
}

func TestStart_SubscribesToCommands(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1})

	if broker.subTopic != "rflink/command/+/set" {
		t.Errorf("subscribed to %q, want %q", broker.subTopic, "rflink/command/+/set")
	}
	if session.onEvent == nil || session.onState == nil {
		t.Error("Start() should register event and state observers")
	}
}

func TestSwitchEventPublishesRetainedState(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1})

	session.onEvent(rflink.Event{ID: "newkaku_00cac142_1", Command: "on"})

	calls := broker.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d publishes, want 1", len(calls))
	}
	call := calls[0]
	if call.topic != "rflink/state/newkaku_00cac142_1" {
		t.Errorf("topic = %q, want %q", call.topic, "rflink/state/newkaku_00cac142_1")
	}
	if call.payload != "on" {
		t.Errorf("payload = %q, want %q", call.payload, "on")
	}
	if !call.retained {
		t.Error("switch state should be retained")
	}
}

func TestSensorEventPublishesJSON(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1})

	session.onEvent(rflink.Event{
		ID:     "alectov1_0334_temp",
		Sensor: "temperature",
		Value:  24.1,
		Unit:   "°C",
	})

	calls := broker.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d publishes, want 1", len(calls))
	}
	call := calls[0]
	if call.topic != "rflink/sensor/alectov1_0334_temp" {
		t.Errorf("topic = %q, want %q", call.topic, "rflink/sensor/alectov1_0334_temp")
	}
	if !call.retained {
		t.Error("sensor readings should be retained")
	}

	var reading sensorReading
	if err := json.Unmarshal([]byte(call.payload), &reading); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if reading.Sensor != "temperature" {
		t.Errorf("sensor = %q, want %q", reading.Sensor, "temperature")
	}
	if reading.Value != 24.1 {
		t.Errorf("value = %v, want 24.1", reading.Value)
	}
	if reading.Unit != "°C" {
		t.Errorf("unit = %q, want %q", reading.Unit, "°C")
	}
}

func TestIgnoredDeviceIsNotPublished(t *testing.T) {
	ignore := rflink.NewIgnoreList([]string{"newkaku_00cac142_*"})
	_, broker, session := startTestBridge(t, Options{QoS: 1, Ignore: ignore})

	session.onEvent(rflink.Event{ID: "newkaku_00cac142_1", Command: "on"})
	session.onEvent(rflink.Event{ID: "newkaku_ffffff_2", Command: "off"})

	calls := broker.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d publishes, want 1", len(calls))
	}
	if calls[0].topic != "rflink/state/newkaku_ffffff_2" {
		t.Errorf("published %q, want only the non-ignored device", calls[0].topic)
	}
}

func TestGatewayStatePublished(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1})

	session.onState(rflink.StateConnected)

	calls := broker.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d publishes, want 1", len(calls))
	}
	call := calls[0]
	if call.topic != "rflink/system/gateway" {
		t.Errorf("topic = %q, want %q", call.topic, "rflink/system/gateway")
	}
	if call.payload != "connected" {
		t.Errorf("payload = %q, want %q", call.payload, "connected")
	}
	if !call.retained {
		t.Error("gateway state should be retained")
	}
}

func TestCommandForwardedToSession(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1, CommandRepeat: 3})

	err := broker.handler("rflink/command/newkaku_00cac142_1/set", []byte(" ON \n"))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.sent) != 1 {
		t.Fatalf("got %d commands, want 1", len(session.sent))
	}
	cmd := session.sent[0]
	if cmd.DeviceID != "newkaku_00cac142_1" {
		t.Errorf("DeviceID = %q, want %q", cmd.DeviceID, "newkaku_00cac142_1")
	}
	if cmd.Action != "on" {
		t.Errorf("Action = %q, want %q (trimmed and lowercased)", cmd.Action, "on")
	}
	if cmd.Repeat != 3 {
		t.Errorf("Repeat = %d, want 3", cmd.Repeat)
	}
}

func TestCommandRejectsBadInput(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1})

	if err := broker.handler("rflink/state/newkaku_00cac142_1", []byte("on")); err == nil {
		t.Error("non-command topic should be rejected")
	}
	if err := broker.handler("rflink/command/newkaku_00cac142_1/set", []byte("  ")); err == nil {
		t.Error("empty payload should be rejected")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.sent) != 0 {
		t.Errorf("got %d commands, want 0", len(session.sent))
	}
}

func TestCommandSendErrorSurfaces(t *testing.T) {
	_, broker, session := startTestBridge(t, Options{QoS: 1})
	session.sendErr = rflink.ErrUnknownProtocol

	err := broker.handler("rflink/command/bogus_000001_1/set", []byte("on"))
	if !errors.Is(err, rflink.ErrUnknownProtocol) {
		t.Errorf("handler error = %v, want ErrUnknownProtocol", err)
	}
}

func TestStopUnsubscribes(t *testing.T) {
	b, broker, _ := startTestBridge(t, Options{QoS: 1})

	b.Stop()
	b.Stop() // idempotent

	if len(broker.unsubbed) != 1 {
		t.Fatalf("got %d unsubscribes, want 1", len(broker.unsubbed))
	}
	if broker.unsubbed[0] != "rflink/command/+/set" {
		t.Errorf("unsubscribed %q, want %q", broker.unsubbed[0], "rflink/command/+/set")
	}
}
