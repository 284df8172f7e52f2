package consumer

import (
	"context"
	"errors"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/notify"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type fakeMsg struct {
	data    []byte
	headers nats.Header
	meta    *jetstream.MsgMetadata
	ackErr  error

	mu     sync.Mutex
	acked  bool
	naks   []time.Duration
	events []string
}

func newMsg(data string, seq uint64) *fakeMsg {
	return &fakeMsg{
		data:    []byte(data),
		headers: nats.Header{},
		meta: &jetstream.MsgMetadata{
			Sequence:     jetstream.SequencePair{Stream: seq, Consumer: seq},
			NumDelivered: 1,
			Timestamp:    time.Now().Add(-time.Hour),
		},
	}
}

func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.headers }
func (m *fakeMsg) Subject() string      { return "test.subject" }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	if m.meta == nil {
		return nil, errors.New("no metadata")
	}
	return m.meta, nil
}

func (m *fakeMsg) DoubleAck(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "ack")
	if m.ackErr != nil {
		return m.ackErr
	}
	m.acked = true
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "nak")
	m.naks = append(m.naks, d)
	return nil
}

func (m *fakeMsg) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *fakeMsg) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *fakeMsg) isAcked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

func (m *fakeMsg) nakDelays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.naks...)
}

type published struct {
	subject string
	env     *envelope.Envelope
	delay   time.Duration
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []published

	onPublish func()
}

func (p *fakePublisher) Publish(_ context.Context, subject string, env *envelope.Envelope, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, env: env.Clone(), delay: delay})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeInvoker struct {
	mu        sync.Mutex
	requestID string
	err       error
	calls     []string
	payloads  [][]byte
}

func (f *fakeInvoker) Invoke(_ context.Context, arn string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, arn)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return "", f.err
	}
	return f.requestID, nil
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeInspector struct {
	mu       sync.Mutex
	failed   bool
	err      error
	function string
	request  string
}

func (f *fakeInspector) FailureEvidence(_ context.Context, functionName, requestID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.function = functionName
	f.request = requestID
	return f.failed, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	entries []*notify.Entry
}

func (f *fakeNotifier) Notify(_ context.Context, entry *notify.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

const testARN = "arn:aws:lambda:us-east-1:123456789012:function:orders"

func testConfig() Config {
	return Config{
		TriggerSubject: "my.trigger",
		StatusSubject:  "my.status",
		AckWait:        30 * time.Second,
	}
}
