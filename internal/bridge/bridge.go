// Package bridge connects a gateway session to an MQTT broker.
//
// Decoded events flow out as retained state and sensor messages, and
// device commands flow back in from the command topics. The bridge is
// the piece that lets automation software drive 433MHz devices without
// speaking the serial protocol.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/rflink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/rflink-core/internal/rflink"
)

// MQTTClient is the broker surface the bridge needs. Satisfied by
// *mqtt.Client; narrowed to an interface so tests can fake the broker.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// GatewaySession is the session surface the bridge needs. Satisfied by
// *rflink.Session.
type GatewaySession interface {
	OnEvent(fn func(rflink.Event))
	OnStateChange(fn func(rflink.ConnState))
	Send(cmd rflink.Command) error
}

// Options configures a Bridge.
type Options struct {
	// Session is the gateway session to observe and send through.
	Session GatewaySession

	// MQTT is the connected broker client.
	MQTT MQTTClient

	// Ignore filters events by device id before publishing. May be nil.
	Ignore *rflink.IgnoreList

	// QoS is used for all bridge publishes and subscriptions.
	QoS byte

	// CommandRepeat and CommandDelay set the cadence for commands
	// received over MQTT. Zero values fall back to the session defaults.
	CommandRepeat int
	CommandDelay  time.Duration

	// Logger is optional.
	Logger rflink.Logger
}

// Bridge publishes gateway events to MQTT and forwards MQTT commands to
// the gateway.
//
// Thread Safety: all methods are safe for concurrent use. Event and
// command handlers run on the session's dispatch goroutine and the paho
// handler goroutines respectively.
type Bridge struct {
	session GatewaySession
	mqtt    MQTTClient
	ignore  *rflink.IgnoreList
	qos     byte
	repeat  int
	delay   time.Duration
	logger  rflink.Logger

	topics   mqtt.Topics
	stopOnce sync.Once
}

// sensorReading is the JSON payload published for sensor events.
type sensorReading struct {
	Sensor string `json:"sensor"`
	Value  any    `json:"value"`
	Unit   string `json:"unit,omitempty"`
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("bridge: session is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: mqtt client is required")
	}

	return &Bridge{
		session: opts.Session,
		mqtt:    opts.MQTT,
		ignore:  opts.Ignore,
		qos:     opts.QoS,
		repeat:  opts.CommandRepeat,
		delay:   opts.CommandDelay,
		logger:  opts.Logger,
	}, nil
}

// Start registers the session observers and subscribes to the command
// topics. Observers stay registered for the life of the session.
func (b *Bridge) Start() error {
	b.session.OnEvent(b.publishEvent)
	b.session.OnStateChange(b.publishGatewayState)

	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("bridge: subscribe to commands: %w", err)
	}
	b.logInfo("bridge started", "command_topic", topic)
	return nil
}

// Stop unsubscribes from the command topics. Event publishing stops
// when the session closes.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logWarn("unsubscribe failed", "error", err)
		}
	})
}

// publishEvent maps one decoded event to its MQTT topic. Switch events
// carry the bare command as payload; sensor events carry a small JSON
// document. Both are retained so late subscribers see the last value.
func (b *Bridge) publishEvent(e rflink.Event) {
	if b.ignore.Match(e.ID) {
		b.logDebug("event ignored", "device_id", e.ID)
		return
	}

	var topic string
	var payload []byte
	if e.Command != "" {
		topic = b.topics.State(e.ID)
		payload = []byte(e.Command)
	} else {
		topic = b.topics.Sensor(e.ID)
		var err error
		payload, err = json.Marshal(sensorReading{
			Sensor: e.Sensor,
			Value:  e.Value,
			Unit:   e.Unit,
		})
		if err != nil {
			b.logWarn("sensor payload marshal failed", "device_id", e.ID, "error", err)
			return
		}
	}

	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logWarn("event publish failed", "topic", topic, "error", err)
	}
}

// publishGatewayState mirrors the RF link state to a retained topic so
// consumers can tell stale sensor values from a dead gateway.
func (b *Bridge) publishGatewayState(state rflink.ConnState) {
	topic := b.topics.GatewayStatus()
	if err := b.mqtt.Publish(topic, []byte(state.String()), b.qos, true); err != nil {
		b.logWarn("gateway state publish failed", "state", state.String(), "error", err)
	}
}

// handleCommand forwards one MQTT command message to the gateway. The
// payload is the action verb; the device id comes from the topic.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, ok := b.topics.DeviceFromCommandTopic(topic)
	if !ok {
		return fmt.Errorf("bridge: unexpected command topic %q", topic)
	}

	action := strings.ToLower(strings.TrimSpace(string(payload)))
	if action == "" {
		return fmt.Errorf("bridge: empty command for %s", deviceID)
	}

	b.logInfo("command received", "device_id", deviceID, "action", action)

	err := b.session.Send(rflink.Command{
		DeviceID: deviceID,
		Action:   action,
		Repeat:   b.repeat,
		Delay:    b.delay,
	})
	if err != nil {
		return fmt.Errorf("bridge: send %s %s: %w", deviceID, action, err)
	}
	return nil
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}
