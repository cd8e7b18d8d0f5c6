// internal/host/host_test.go
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/status"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

// ---- paho fakes ----

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type published struct {
	retained bool
	payload  string
}

type fakeClient struct {
	mu      sync.Mutex
	sent    map[string]published
	handler mqtt.MessageHandler
	topic   string
	subErr  error
}

func newFakeClient() *fakeClient { return &fakeClient{sent: map[string]published{}} }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[topic] = published{retained: retained, payload: string(payload.([]byte))}
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.topic = topic
	c.handler = h
	return doneToken{err: c.subErr}
}

func (c *fakeClient) get(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.sent[topic]
	return p, ok
}

func (c *fakeClient) deliver(topic, payload string) {
	c.handler(nil, message{topic: topic, payload: []byte(payload)})
}

type fakeControl struct {
	power   []bool
	user    []bool
	current []float64
	err     error
}

func (c *fakeControl) SetPower(_ context.Context, id string, on bool, opts vendor.ActionOptions) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.power = append(c.power, on)
	c.user = append(c.user, opts.TriggeredByUser)
	return "corr-" + id, nil
}

func (c *fakeControl) SetMaxCurrent(_ context.Context, id string, amps float64) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.current = append(c.current, amps)
	return "corr-" + id, nil
}

// ---- notifications ----

func TestMQTTPublishesState(t *testing.T) {
	c := newFakeClient()
	m := NewMQTT(c, "cl/", 1, zaptest.NewLogger(t))

	m.StateChanged("w1", "power", codec.Bool(true))
	m.StateChanged("w1", "charger_state", codec.Enum(3, "charging"))
	min, max := 6.0, 32.0
	m.BoundsChanged("w1", "max_charging_current", &min, &max)
	m.ReachabilityChanged("w1", false)
	m.ActionCompleted("abc", false, fault.KindTimeout)
	m.PublishStatus("w1", status.Snapshot{Link: status.Reachable})

	p, ok := c.get("cl/chargers/w1/state/power")
	require.True(t, ok)
	assert.True(t, p.retained)
	assert.Equal(t, "true", p.payload)

	p, _ = c.get("cl/chargers/w1/state/charger_state")
	assert.Equal(t, `"charging"`, p.payload)

	p, _ = c.get("cl/chargers/w1/bounds/max_charging_current")
	assert.JSONEq(t, `{"min":6,"max":32}`, p.payload)

	p, _ = c.get("cl/chargers/w1/reachable")
	assert.Equal(t, "false", p.payload)

	p, _ = c.get("cl/actions/abc")
	assert.False(t, p.retained)
	assert.JSONEq(t, `{"success":false,"error":"timeout"}`, p.payload)

	p, ok = c.get("cl/chargers/w1/status")
	require.True(t, ok)
	var snap map[string]any
	require.NoError(t, json.Unmarshal([]byte(p.payload), &snap))
	assert.Equal(t, "reachable", snap["link"])
}

// ---- commands ----

func TestMQTTCommands(t *testing.T) {
	c := newFakeClient()
	ctl := &fakeControl{}
	m := NewMQTT(c, "cl", 0, zaptest.NewLogger(t))
	require.NoError(t, m.Serve(ctl))
	assert.Equal(t, "cl/chargers/+/set/+", c.topic)

	c.deliver("cl/chargers/w1/set/power", "true")
	c.deliver("cl/chargers/w1/set/power", `{"value":true,"user":true}`)
	c.deliver("cl/chargers/w1/set/max_current", "16")

	assert.Equal(t, []bool{true, true}, ctl.power)
	assert.Equal(t, []bool{false, true}, ctl.user)
	assert.Equal(t, []float64{16}, ctl.current)

	p, ok := c.get("cl/chargers/w1/set/max_current/result")
	require.True(t, ok)
	assert.JSONEq(t, `{"correlation_id":"corr-w1"}`, p.payload)
}

func TestMQTTCommandErrors(t *testing.T) {
	c := newFakeClient()
	ctl := &fakeControl{}
	m := NewMQTT(c, "cl", 0, zaptest.NewLogger(t))
	require.NoError(t, m.Serve(ctl))

	c.deliver("cl/chargers/w1/set/power", `"yes"`)
	p, _ := c.get("cl/chargers/w1/set/power/result")
	assert.JSONEq(t, `{"error":"invalid_value"}`, p.payload)

	c.deliver("cl/chargers/w1/set/reboot", "1")
	p, _ = c.get("cl/chargers/w1/set/reboot/result")
	assert.JSONEq(t, `{"error":"invalid_value"}`, p.payload)

	c.deliver("cl/chargers/w1/set/max_current", "{")
	p, _ = c.get("cl/chargers/w1/set/max_current/result")
	assert.JSONEq(t, `{"error":"invalid_value"}`, p.payload)

	ctl.err = fmt.Errorf("%w: w1", fault.ErrHardwareUnavailable)
	c.deliver("cl/chargers/w1/set/max_current", "10")
	p, _ = c.get("cl/chargers/w1/set/max_current/result")
	assert.JSONEq(t, `{"error":"hardware_unavailable"}`, p.payload)

	// malformed topics are ignored
	c.deliver("cl/chargers/w1/state/power", "true")
	_, ok := c.get("cl/chargers/w1/state/power/result")
	assert.False(t, ok)
	assert.Empty(t, ctl.power)
}

func TestMQTTSubscribeFailure(t *testing.T) {
	c := newFakeClient()
	c.subErr = fmt.Errorf("not authorized")
	m := NewMQTT(c, "cl", 0, nil)
	assert.Error(t, m.Serve(&fakeControl{}))
}

// ---- fanout ----

type recorder struct {
	states  []string
	reach   []bool
	actions []string
}

func (r *recorder) StateChanged(_, signal string, _ codec.Value) { r.states = append(r.states, signal) }
func (r *recorder) ReachabilityChanged(_ string, reachable bool) { r.reach = append(r.reach, reachable) }
func (r *recorder) ActionCompleted(id string, _ bool, _ fault.Kind) {
	r.actions = append(r.actions, id)
}

func TestFanout(t *testing.T) {
	rec := &recorder{}
	c := newFakeClient()
	f := Fanout{rec, LogNotifier{Log: zaptest.NewLogger(t)}, NewMQTT(c, "cl", 0, nil)}

	f.StateChanged("w1", "power", codec.Bool(true))
	f.ReachabilityChanged("w1", true)
	f.ActionCompleted("id1", true, fault.KindNone)
	max := 32.0
	f.BoundsChanged("w1", "max_charging_current", nil, &max)
	f.PublishStatus("w1", status.Snapshot{})

	assert.Equal(t, []string{"power"}, rec.states)
	assert.Equal(t, []bool{true}, rec.reach)
	assert.Equal(t, []string{"id1"}, rec.actions)

	p, ok := c.get("cl/chargers/w1/bounds/max_charging_current")
	require.True(t, ok)
	assert.JSONEq(t, `{"max":32}`, p.payload)
	_, ok = c.get("cl/chargers/w1/status")
	assert.True(t, ok)
}
