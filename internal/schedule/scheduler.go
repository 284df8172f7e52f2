// Package schedule fires trigger events on cron schedules read from the
// credential/rule store.
package schedule

import (
	"context"
	"fmt"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/store"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Extra fields stamped on scheduled triggers.
const (
	FieldEventType   = "event_type"
	FieldScheduledAt = "scheduled_at"
)

// Publisher publishes a trigger envelope.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *envelope.Envelope, delay time.Duration) error
}

// Entry is a registered schedule and its next fire time.
type Entry struct {
	store.Schedule
	Next time.Time `json:"next"`
}

// Scheduler publishes a fresh trigger every time a schedule fires.
type Scheduler struct {
	cron      *cron.Cron
	publisher Publisher
	subject   string

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]registered
}

type registered struct {
	id       cron.EntryID
	spec     cron.Schedule
	schedule store.Schedule
}

// New creates a scheduler publishing to subject. Times are UTC.
func New(publisher Publisher, subject string) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(logger)),
		),
		publisher: publisher,
		subject:   subject,
		ctx:       context.Background(),
		entries:   make(map[string]registered),
	}
}

// Load registers every schedule in the store. Schedules that cannot be
// parsed are logged and skipped. It returns the number registered.
func (s *Scheduler) Load(ctx context.Context, lister store.Lister) (int, error) {
	schedules, invalid, err := store.Schedules(ctx, lister)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	for eventType, err := range invalid {
		slog.Warn("Skipping schedule", "eventType", eventType, "error", err)
	}

	n := 0
	for _, sched := range schedules {
		if err := s.Add(sched); err != nil {
			slog.Warn("Skipping schedule", "eventType", sched.EventType, "spec", sched.Spec, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Add registers sched, replacing any schedule for the same event type.
func (s *Scheduler) Add(sched store.Schedule) error {
	spec, err := cron.ParseStandard(sched.Spec)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", sched.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[sched.EventType]; ok {
		s.cron.Remove(old.id)
	}
	id := s.cron.Schedule(spec, cron.FuncJob(func() { s.fire(sched) }))
	s.entries[sched.EventType] = registered{id: id, spec: spec, schedule: sched}
	slog.Info("Schedule registered", "eventType", sched.EventType, "lambdaArn", sched.LambdaARN, "spec", sched.Spec)
	return nil
}

// Remove unregisters the schedule for eventType.
func (s *Scheduler) Remove(eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[eventType]; ok {
		s.cron.Remove(old.id)
		delete(s.entries, eventType)
	}
}

// Entries returns the registered schedules sorted by event type.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]Entry, 0, len(s.entries))
	for _, r := range s.entries {
		next := s.cron.Entry(r.id).Next
		if next.IsZero() {
			next = r.spec.Next(now)
		}
		out = append(out, Entry{Schedule: r.schedule, Next: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// Run starts firing schedules and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Scheduler started", "schedules", len(s.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) fire(sched store.Schedule) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.Fire(ctx, sched, time.Now().UTC()); err != nil {
		slog.Error("Scheduled trigger failed", "eventType", sched.EventType, "error", err)
	}
}

// Fire publishes the trigger for one tick of sched. The event id is derived
// from the event type and the tick, so replicas firing the same tick publish
// one event.
func (s *Scheduler) Fire(ctx context.Context, sched store.Schedule, at time.Time) error {
	env, err := Trigger(sched, at)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, s.subject, env, 0); err != nil {
		return err
	}
	slog.Info("Scheduled trigger published", "eventType", sched.EventType, "eventId", env.EventID, "lambdaArn", sched.LambdaARN)
	return nil
}

// Trigger builds the retry_index 0 envelope for one tick of sched.
func Trigger(sched store.Schedule, at time.Time) (*envelope.Envelope, error) {
	at = at.UTC().Truncate(time.Second)
	env := &envelope.Envelope{
		LambdaARN: sched.LambdaARN,
		EventID:   store.ScheduleKey(sched.EventType) + ":" + strconv.FormatInt(at.Unix(), 10),
	}
	if err := env.SetExtra(FieldEventType, sched.EventType); err != nil {
		return nil, err
	}
	if err := env.SetExtra(FieldScheduledAt, at.Format(time.RFC3339)); err != nil {
		return nil, err
	}
	return env, nil
}

// NextRun returns the first fire time of spec after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
