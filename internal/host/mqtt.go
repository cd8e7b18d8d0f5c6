// internal/host/mqtt.go
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/status"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

// MQTTConfig is the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
}

// Client is the part of a paho client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// MQTT publishes notifications to a broker and routes set commands to
// the control surface.
//
//	<prefix>/chargers/<id>/state/<signal>    retained JSON value
//	<prefix>/chargers/<id>/bounds/<signal>   retained {"min","max"}
//	<prefix>/chargers/<id>/reachable         retained true|false
//	<prefix>/chargers/<id>/status            retained link health
//	<prefix>/chargers/<id>/set/power         command: true|false or {"value","user"}
//	<prefix>/chargers/<id>/set/max_current   command: amps or {"value"}
//	<prefix>/chargers/<id>/set/<cmd>/result  {"correlation_id"} or {"error"}
//	<prefix>/actions/<correlation id>        {"success","error"}
type MQTT struct {
	client Client
	prefix string
	qos    byte
	log    *zap.Logger

	control Control
	timeout time.Duration
}

// NewMQTT wraps a connected client.
func NewMQTT(client Client, prefix string, qos byte, log *zap.Logger) *MQTT {
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTT{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     qos,
		log:     log,
		timeout: 5 * time.Second,
	}
}

// DialMQTT connects to the broker. The returned disconnect func is for shutdown.
func DialMQTT(cfg MQTTConfig, log *zap.Logger) (*MQTT, func(), error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, tok.Error())
	}
	return NewMQTT(c, cfg.Prefix, cfg.QoS, log), func() { c.Disconnect(250) }, nil
}

func (m *MQTT) device(id string) string { return m.prefix + "/chargers/" + id }

func (m *MQTT) publish(topic string, retained bool, payload []byte) {
	tok := m.client.Publish(topic, m.qos, retained, payload)
	go func() {
		if !tok.WaitTimeout(m.timeout) {
			m.log.Warn("mqtt publish timed out", zap.String("topic", topic))
			return
		}
		if err := tok.Error(); err != nil {
			m.log.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func (m *MQTT) publishJSON(topic string, retained bool, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Error("mqtt payload encode failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	m.publish(topic, retained, b)
}

// ---- notifications ----

func (m *MQTT) StateChanged(deviceID, signal string, v codec.Value) {
	m.publishJSON(m.device(deviceID)+"/state/"+signal, true, v.Interface())
}

func (m *MQTT) BoundsChanged(deviceID, signal string, min, max *float64) {
	m.publishJSON(m.device(deviceID)+"/bounds/"+signal, true, struct {
		Min *float64 `json:"min,omitempty"`
		Max *float64 `json:"max,omitempty"`
	}{min, max})
}

func (m *MQTT) ReachabilityChanged(deviceID string, reachable bool) {
	m.publish(m.device(deviceID)+"/reachable", true, []byte(strconv.FormatBool(reachable)))
}

func (m *MQTT) PublishStatus(deviceID string, snap status.Snapshot) {
	m.publish(m.device(deviceID)+"/status", true, status.Encode(snap))
}

type actionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (m *MQTT) ActionCompleted(correlationID string, success bool, kind fault.Kind) {
	res := actionResult{Success: success}
	if !success {
		res.Error = kind.String()
	}
	m.publishJSON(m.prefix+"/actions/"+correlationID, false, res)
}

// ---- commands ----

// Serve subscribes to set commands and routes them to control.
func (m *MQTT) Serve(control Control) error {
	m.control = control
	topic := m.prefix + "/chargers/+/set/+"
	tok := m.client.Subscribe(topic, m.qos, m.handle)
	if tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, tok.Error())
	}
	m.log.Info("mqtt command topics subscribed", zap.String("topic", topic))
	return nil
}

type command struct {
	Value any  `json:"value"`
	User  bool `json:"user"`
}

type commandResult struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

var errBadPayload = errors.New("bad payload")

func (m *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	rest, ok := strings.CutPrefix(msg.Topic(), m.prefix+"/chargers/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" {
		return
	}
	deviceID, cmd := parts[0], parts[2]

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	id, err := m.dispatch(ctx, deviceID, cmd, msg.Payload())

	res := commandResult{CorrelationID: id}
	if err != nil {
		res.Error = fault.KindOf(err).String()
		m.log.Warn("mqtt command refused",
			zap.String("device", deviceID),
			zap.String("command", cmd),
			zap.Error(err),
		)
	}
	m.publishJSON(msg.Topic()+"/result", false, res)
}

func (m *MQTT) dispatch(ctx context.Context, deviceID, cmd string, payload []byte) (string, error) {
	if m.control == nil {
		return "", fmt.Errorf("%w: no control surface", fault.ErrHardwareUnavailable)
	}
	c, err := parseCommand(payload)
	if err != nil {
		return "", err
	}

	switch cmd {
	case "power":
		on, ok := c.Value.(bool)
		if !ok {
			return "", fmt.Errorf("%w: power wants a bool: %v", fault.ErrInvalidValue, errBadPayload)
		}
		return m.control.SetPower(ctx, deviceID, on, vendor.ActionOptions{TriggeredByUser: c.User})
	case "max_current":
		amps, ok := c.Value.(float64)
		if !ok {
			return "", fmt.Errorf("%w: max_current wants a number: %v", fault.ErrInvalidValue, errBadPayload)
		}
		return m.control.SetMaxCurrent(ctx, deviceID, amps)
	default:
		return "", fmt.Errorf("%w: unknown command %q", fault.ErrInvalidValue, cmd)
	}
}

// parseCommand accepts a bare JSON value or {"value": ..., "user": ...}.
func parseCommand(payload []byte) (command, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return command{}, fmt.Errorf("%w: %v", fault.ErrInvalidValue, err)
	}
	if obj, ok := raw.(map[string]any); ok {
		var c command
		c.Value = obj["value"]
		c.User, _ = obj["user"].(bool)
		return c, nil
	}
	return command{Value: raw}, nil
}
