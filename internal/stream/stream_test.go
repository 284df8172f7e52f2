package stream

import (
	"context"
	"errors"
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/envelope"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type fakeStream struct {
	jetstream.Stream
	info *jetstream.StreamInfo

	mu        sync.Mutex
	consumers map[string]jetstream.ConsumerConfig
}

func (s *fakeStream) CachedInfo() *jetstream.StreamInfo { return s.info }

func (s *fakeStream) CreateOrUpdateConsumer(_ context.Context, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumers == nil {
		s.consumers = make(map[string]jetstream.ConsumerConfig)
	}
	s.consumers[cfg.Durable] = cfg
	return fakeConsumer{}, nil
}

type fakeConsumer struct{ jetstream.Consumer }

type fakeProvisioner struct {
	mu        sync.Mutex
	streams   map[string]*fakeStream
	creates   int
	createErr error
	// racer, when set, is installed as the stream when CreateStream reports
	// the name already in use.
	racer *fakeStream
}

func (p *fakeProvisioner) Stream(_ context.Context, name string) (jetstream.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.streams[name]; ok {
		return st, nil
	}
	return nil, jetstream.ErrStreamNotFound
}

func (p *fakeProvisioner) CreateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.racer != nil {
		p.streams[cfg.Name] = p.racer
		return nil, jetstream.ErrStreamNameAlreadyInUse
	}
	if p.createErr != nil {
		return nil, p.createErr
	}
	st := &fakeStream{info: &jetstream.StreamInfo{Config: cfg}}
	p.streams[cfg.Name] = st
	return st, nil
}

var testSpec = TopicSpec{Stream: "my_bridge", Subject: "my.event", Consumer: "lambda_trigger"}

func TestManager_Ensure_CreatesStreamAndConsumer(t *testing.T) {
	t.Parallel()
	js := &fakeProvisioner{streams: map[string]*fakeStream{}}
	m := NewManager(js, Config{AckWait: 30 * time.Second})

	if _, err := m.Ensure(context.Background(), testSpec); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	st := js.streams["my_bridge"]
	if st == nil {
		t.Fatal("stream not created")
	}
	if got := st.info.Config.Subjects; len(got) != 1 || got[0] != "my.event" {
		t.Errorf("Subjects = %v", got)
	}
	if st.info.Config.Duplicates != 2*time.Minute {
		t.Errorf("Duplicates = %v, want 2m", st.info.Config.Duplicates)
	}
	cc, ok := st.consumers["lambda_trigger"]
	if !ok {
		t.Fatal("consumer not created")
	}
	if cc.AckPolicy != jetstream.AckExplicitPolicy {
		t.Errorf("AckPolicy = %v, want explicit", cc.AckPolicy)
	}
	if cc.AckWait != 30*time.Second {
		t.Errorf("AckWait = %v", cc.AckWait)
	}
	if cc.MaxDeliver != -1 {
		t.Errorf("MaxDeliver = %d, want -1", cc.MaxDeliver)
	}
	if cc.FilterSubject != "my.event" {
		t.Errorf("FilterSubject = %q", cc.FilterSubject)
	}
}

func TestManager_Ensure_Idempotent(t *testing.T) {
	t.Parallel()
	js := &fakeProvisioner{streams: map[string]*fakeStream{}}
	m := NewManager(js, Config{})

	for i := range 3 {
		if _, err := m.Ensure(context.Background(), testSpec); err != nil {
			t.Fatalf("Ensure #%d: %v", i, err)
		}
	}
	if js.creates != 1 {
		t.Errorf("CreateStream called %d times, want 1", js.creates)
	}
	if n := len(js.streams["my_bridge"].consumers); n != 1 {
		t.Errorf("consumers = %d, want 1", n)
	}
}

func TestManager_Ensure_LostCreateRace(t *testing.T) {
	t.Parallel()
	winner := &fakeStream{info: &jetstream.StreamInfo{Config: jetstream.StreamConfig{Name: "my_bridge", Subjects: []string{"my.>"}}}}
	js := &fakeProvisioner{streams: map[string]*fakeStream{}, racer: winner}
	m := NewManager(js, Config{})

	if _, err := m.Ensure(context.Background(), testSpec); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, ok := winner.consumers["lambda_trigger"]; !ok {
		t.Error("consumer not bound to the existing stream")
	}
}

func TestManager_Ensure_Errors(t *testing.T) {
	t.Parallel()

	t.Run("create failure", func(t *testing.T) {
		t.Parallel()
		js := &fakeProvisioner{streams: map[string]*fakeStream{}, createErr: errors.New("insufficient resources")}
		_, err := NewManager(js, Config{}).Ensure(context.Background(), testSpec)
		if !errors.Is(err, apperrors.ErrProvisioning) {
			t.Fatalf("error = %v, want ErrProvisioning", err)
		}
	})

	t.Run("existing stream binds other subjects", func(t *testing.T) {
		t.Parallel()
		other := &fakeStream{info: &jetstream.StreamInfo{Config: jetstream.StreamConfig{Subjects: []string{"other.>"}}}}
		js := &fakeProvisioner{streams: map[string]*fakeStream{"my_bridge": other}}
		_, err := NewManager(js, Config{}).Ensure(context.Background(), testSpec)
		if !errors.Is(err, apperrors.ErrProvisioning) {
			t.Fatalf("error = %v, want ErrProvisioning", err)
		}
		if len(other.consumers) != 0 {
			t.Error("consumer created on a stream that does not bind the subject")
		}
	})

	t.Run("incomplete spec", func(t *testing.T) {
		t.Parallel()
		js := &fakeProvisioner{streams: map[string]*fakeStream{}}
		_, err := NewManager(js, Config{}).Ensure(context.Background(), TopicSpec{Stream: "s", Subject: "a"})
		if !errors.Is(err, apperrors.ErrConfig) {
			t.Fatalf("error = %v, want ErrConfig", err)
		}
	})
}

func TestManager_Ready(t *testing.T) {
	t.Parallel()
	js := &fakeProvisioner{streams: map[string]*fakeStream{"a": {}}}
	m := NewManager(js, Config{})

	if err := m.Ready(context.Background(), "a"); err != nil {
		t.Errorf("Ready(a) = %v", err)
	}
	if err := m.Ready(context.Background(), "a", "b"); !errors.Is(err, jetstream.ErrStreamNotFound) {
		t.Errorf("Ready(a, b) = %v, want ErrStreamNotFound", err)
	}
}

func TestSubjectMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"my.event", "my.event", true},
		{"my.*", "my.event", true},
		{"my.>", "my.event", true},
		{">", "my.event", true},
		{"my.>", "my", false},
		{"my.*", "my.event.x", false},
		{"my.status", "my.event", false},
		{"my.event.x", "my.event", false},
	}
	for _, tt := range tests {
		if got := SubjectMatches(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("SubjectMatches(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	dup  bool
	err  error
}

func (c *capturePublisher) PublishMsg(ctx context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("publish without deadline")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.msgs = append(c.msgs, msg)
	return &jetstream.PubAck{Stream: "status_bridge", Sequence: uint64(len(c.msgs)), Duplicate: c.dup}, nil
}

func TestPublisher_Publish_Headers(t *testing.T) {
	t.Parallel()
	js := &capturePublisher{}
	p := NewPublisher(js, Config{})
	env := &envelope.Envelope{LambdaARN: "arn:aws:lambda:us-east-1:1:function:fn", EventID: "42", LambdaRequestID: "req-1"}

	if err := p.Publish(context.Background(), "my.status", env, 60*time.Second); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(js.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(js.msgs))
	}
	msg := js.msgs[0]
	if msg.Subject != "my.status" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if got := msg.Header.Get("Nats-Delay"); got != "60s" {
		t.Errorf("Nats-Delay = %q, want 60s", got)
	}
	if got := msg.Header.Get("Nats-Msg-Id"); got != "42" {
		t.Errorf("Nats-Msg-Id = %q, want 42", got)
	}
	decoded, err := envelope.Decode(msg.Data)
	if err != nil {
		t.Fatalf("Decode published payload: %v", err)
	}
	if decoded.LambdaRequestID != "req-1" || decoded.EventID != "42" {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestPublisher_Publish_NoDelayNoID(t *testing.T) {
	t.Parallel()
	js := &capturePublisher{}
	p := NewPublisher(js, Config{DelayHeader: "X-Delay"})

	if err := p.Publish(context.Background(), "my.event", &envelope.Envelope{LambdaARN: "fn"}, 0); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h := js.msgs[0].Header
	if h.Get("X-Delay") != "" || h.Get("Nats-Delay") != "" {
		t.Errorf("unexpected delay header: %v", h)
	}
	if h.Get("Nats-Msg-Id") != "" {
		t.Errorf("unexpected msg id: %v", h)
	}
}

func TestPublisher_Publish_DuplicateIsSuccess(t *testing.T) {
	t.Parallel()
	p := NewPublisher(&capturePublisher{dup: true}, Config{})
	if err := p.Publish(context.Background(), "my.event", &envelope.Envelope{LambdaARN: "fn", EventID: "1"}, time.Minute); err != nil {
		t.Errorf("duplicate publish = %v, want nil", err)
	}
}

func TestPublisher_Publish_Error(t *testing.T) {
	t.Parallel()
	p := NewPublisher(&capturePublisher{err: nats.ErrTimeout}, Config{})
	err := p.Publish(context.Background(), "my.event", &envelope.Envelope{LambdaARN: "fn"}, time.Minute)
	if !errors.Is(err, apperrors.ErrPublish) || !errors.Is(err, nats.ErrTimeout) {
		t.Errorf("error = %v, want ErrPublish wrapping ErrTimeout", err)
	}
	if !apperrors.IsTransient(err) {
		t.Error("publish failure must be transient")
	}
}
