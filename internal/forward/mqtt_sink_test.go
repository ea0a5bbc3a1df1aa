package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/afroash/weather-station/internal/models"
)

// fakeToken is an mqtt.Token that is already complete
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes; unused methods come from the embedded interface
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	publishErr   error
	published    []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return newFakeToken(nil, true)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(c.publishErr, true)
}

func newTestMQTTSink(client *fakeClient) *MQTTSink {
	s := newMQTTSink(MQTTConfig{Topic: "weather/", StationID: 7, QoS: 1}, testLogger())
	s.client = client
	return s
}

func TestMQTTSink_Topic(t *testing.T) {
	s := newMQTTSink(MQTTConfig{StationID: 3}, testLogger())
	if s.Topic() != "weather/3/readings" {
		t.Errorf("Topic = %q", s.Topic())
	}

	s = newMQTTSink(MQTTConfig{Topic: "site/roof/", StationID: 12}, testLogger())
	if s.Topic() != "site/roof/12/readings" {
		t.Errorf("Topic = %q", s.Topic())
	}
}

func TestMQTTSink_Publish(t *testing.T) {
	client := &fakeClient{}
	s := newTestMQTTSink(client)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	reading := &models.Reading{ID: 42, DateTime: "2024-06-01 12:00:00", TempOutC: 21.5}
	if err := s.Send(context.Background(), reading); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "weather/7/readings" || msg.qos != 1 {
		t.Errorf("published to %s qos %d", msg.topic, msg.qos)
	}

	var got models.Reading
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not a reading: %v", err)
	}
	if got.ID != 42 || got.TempOutC != 21.5 || got.DateTime != reading.DateTime {
		t.Errorf("payload = %+v", got)
	}
}

func TestMQTTSink_NotConnected(t *testing.T) {
	client := &fakeClient{}
	s := newTestMQTTSink(client)

	err := s.Send(context.Background(), &models.Reading{ID: 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if len(client.published) != 0 {
		t.Error("nothing should be published while disconnected")
	}
}

func TestMQTTSink_PublishError(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("broker refused")}
	s := newTestMQTTSink(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	err := s.Send(context.Background(), &models.Reading{ID: 1})
	if err == nil || errors.Is(err, ErrSkip) {
		t.Errorf("err = %v, want a retryable error", err)
	}
}

func TestMQTTSink_Close(t *testing.T) {
	client := &fakeClient{}
	s := newTestMQTTSink(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	s.Close()
	s.Close()

	if !client.disconnected || s.IsConnected() {
		t.Error("Close should disconnect the client")
	}
	if err := s.Connect(context.Background()); err == nil {
		t.Error("Connect after Close should fail")
	}
}

func TestMQTTSink_ForwardedInOrder(t *testing.T) {
	client := &fakeClient{}
	s := newTestMQTTSink(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	src := newMemorySource(3)
	fwd := NewForwarder(src, s, Config{}, testLogger())
	if _, err := fwd.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(client.published) != 3 {
		t.Fatalf("published %d, want 3", len(client.published))
	}
	if src.cursors["mqtt"] != 3 {
		t.Errorf("cursor = %d, want 3", src.cursors["mqtt"])
	}
}
