package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berfenger/otgw2mqtt/internal/core/registry"
	"github.com/berfenger/otgw2mqtt/internal/core/schema"
	"github.com/berfenger/otgw2mqtt/internal/core/state"
	"github.com/berfenger/otgw2mqtt/internal/monitor"
	"github.com/berfenger/otgw2mqtt/pkg/opentherm"

	"go.uber.org/zap"
)

type Phase int

const (
	Initializing Phase = iota
	Steady
)

func (p Phase) String() string {
	if p == Steady {
		return "steady"
	}
	return "initializing"
}

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrNotWritable   = errors.New("entity is not writable")
)

// WriteError reports a write the boiler did not acknowledge. The entity keeps
// its previous value.
type WriteError struct {
	Entity   string
	Response opentherm.MessageType
	Err      error
}

func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("write %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("write %s: boiler answered %s", e.Entity, e.Response)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Update is an entity value that changed.
type Update struct {
	Entity schema.Entity
	Value  opentherm.Value
	At     time.Time
}

type Publisher interface {
	Publish(Update)
}

type PublisherFunc func(Update)

func (f PublisherFunc) Publish(u Update) {
	f(u)
}

type Config struct {
	// MaxInitRetries is the number of extra attempts per Data-ID during
	// initialization before its entities are marked unavailable.
	MaxInitRetries int
	// MinRequestSpacing is the minimum time between two polling requests.
	MinRequestSpacing time.Duration
}

// TickResult describes what a Tick did.
type TickResult struct {
	Phase    Phase
	Idle     bool
	DataID   opentherm.DataID
	Response *opentherm.Frame
	Err      error
}

// Scheduler decides which Data-ID to request on each tick and applies every
// frame it sees to the state store. Methods are serialized internally.
type Scheduler struct {
	mu sync.Mutex

	reg     *registry.Registry
	store   *state.Store
	bus     opentherm.Transceiver
	pub     Publisher
	cfg     Config
	logger  *zap.Logger
	metrics *monitor.Metrics

	phase       Phase
	initQueue   []opentherm.DataID
	satisfied   map[opentherm.DataID]bool
	retries     map[opentherm.DataID]int
	unavailable map[opentherm.DataID]bool
	intervals   map[opentherm.DataID]time.Duration
	nextDue     map[opentherm.DataID]time.Time
	lastRead    map[opentherm.DataID]time.Time
	lastRequest time.Time

	desired        map[uint8]bool
	thermostat     uint8
	thermostatSeen bool
	date           dateAssembler
}

func New(reg *registry.Registry, store *state.Store, bus opentherm.Transceiver, pub Publisher, cfg Config, logger *zap.Logger, metrics *monitor.Metrics) *Scheduler {
	if pub == nil {
		pub = PublisherFunc(func(Update) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		reg:         reg,
		store:       store,
		bus:         bus,
		pub:         pub,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		phase:       Initializing,
		initQueue:   reg.InitMessages(),
		satisfied:   map[opentherm.DataID]bool{},
		retries:     map[opentherm.DataID]int{},
		unavailable: map[opentherm.DataID]bool{},
		intervals:   reg.PollIntervals(),
		nextDue:     map[opentherm.DataID]time.Time{},
		lastRead:    map[opentherm.DataID]time.Time{},
		desired:     map[uint8]bool{},
	}
	metrics.SetPhase(false)
	return s
}

func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// NextDue returns when id is polled next. Only meaningful once steady.
func (s *Scheduler) NextDue(id opentherm.DataID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.nextDue[id]
	return t, ok
}

// Unavailable returns the Data-IDs that exhausted their init retries.
func (s *Scheduler) Unavailable() []opentherm.DataID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []opentherm.DataID
	for _, id := range s.reg.Messages() {
		if s.unavailable[id] {
			out = append(out, id)
		}
	}
	return out
}

// Tick performs at most one request.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastRequest.IsZero() && now.Sub(s.lastRequest) < s.cfg.MinRequestSpacing {
		return TickResult{Phase: s.phase, Idle: true}
	}

	if s.phase == Initializing {
		return s.initTick(ctx, now)
	}
	return s.steadyTick(ctx, now)
}

func (s *Scheduler) initTick(ctx context.Context, now time.Time) TickResult {
	for len(s.initQueue) > 0 && s.satisfied[s.initQueue[0]] {
		s.initQueue = s.initQueue[1:]
	}
	if len(s.initQueue) == 0 {
		s.enterSteady(now)
		return TickResult{Phase: s.phase, Idle: true}
	}

	id := s.initQueue[0]
	s.initQueue = s.initQueue[1:]

	resp, err := s.exchange(ctx, id, opentherm.ReadData, s.readPayload(id), now)
	if err == nil && resp.Type == opentherm.ReadAck {
		s.apply(resp, now)
		return TickResult{Phase: s.phase, DataID: id, Response: &resp}
	}

	s.retries[id]++
	if s.retries[id] > s.cfg.MaxInitRetries {
		s.logger.Warn("scheduler@initializing message unavailable", zap.Stringer("message", id), zap.Int("attempts", s.retries[id]))
		s.markUnavailable(id)
	} else {
		s.initQueue = append(s.initQueue, id)
	}
	return TickResult{Phase: s.phase, DataID: id, Response: responseOrNil(resp, err), Err: failure(resp, err)}
}

func (s *Scheduler) enterSteady(now time.Time) {
	s.phase = Steady
	for id, iv := range s.intervals {
		if s.unavailable[id] {
			continue
		}
		if last, ok := s.lastRead[id]; ok {
			s.nextDue[id] = last.Add(iv)
		} else {
			s.nextDue[id] = now
		}
	}
	s.metrics.SetPhase(true)
	s.logger.Info("scheduler@initializing done", zap.Int("unavailable", len(s.unavailable)), zap.Int("polled", len(s.nextDue)))
}

func (s *Scheduler) steadyTick(ctx context.Context, now time.Time) TickResult {
	id, ok := s.mostOverdue(now)
	if !ok {
		return TickResult{Phase: s.phase, Idle: true}
	}

	resp, err := s.exchange(ctx, id, opentherm.ReadData, s.readPayload(id), now)
	s.nextDue[id] = now.Add(s.intervals[id])
	if err == nil && resp.Type == opentherm.ReadAck {
		s.apply(resp, now)
		return TickResult{Phase: s.phase, DataID: id, Response: &resp}
	}
	s.logger.Debug("scheduler@steady poll failed", zap.Stringer("message", id), zap.Error(failure(resp, err)))
	return TickResult{Phase: s.phase, DataID: id, Response: responseOrNil(resp, err), Err: failure(resp, err)}
}

func (s *Scheduler) mostOverdue(now time.Time) (opentherm.DataID, bool) {
	var best opentherm.DataID
	var bestDue time.Time
	found := false
	for id, due := range s.nextDue {
		if s.unavailable[id] || due.After(now) {
			continue
		}
		if !found || due.Before(bestDue) || (due.Equal(bestDue) && s.reg.Rank(id) < s.reg.Rank(best)) {
			best, bestDue, found = id, due, true
		}
	}
	return best, found
}

// Observe applies a frame seen on the bus that was not an answer to one of
// our requests: thermostat writes and the boiler acks to thermostat requests.
func (s *Scheduler) Observe(f opentherm.Frame, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.FrameObserved(f.DataID.String())

	switch f.Type {
	case opentherm.ReadData:
		if f.DataID == opentherm.Status {
			s.thermostat = f.HighByte()
			s.thermostatSeen = true
		}
	case opentherm.WriteData, opentherm.ReadAck, opentherm.WriteAck:
		if s.reg.Known(f.DataID) {
			s.apply(f, now)
		}
	}
}

// RequestWrite clamps, encodes and writes a value for a switch or input.
// The new value is applied only once the boiler acknowledges it.
func (s *Scheduler) RequestWrite(ctx context.Context, entityID string, v opentherm.Value, now time.Time) (opentherm.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.reg.Entity(entityID)
	if !ok {
		return opentherm.Value{}, fmt.Errorf("%s: %w", entityID, ErrUnknownEntity)
	}
	if !e.Writable() {
		return opentherm.Value{}, fmt.Errorf("%s: %w", entityID, ErrNotWritable)
	}

	if isMasterStatusFlag(e) {
		return s.writeStatusFlag(ctx, e, v, now)
	}

	if e.Range != nil {
		n, ok := v.Number()
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			s.metrics.Write("invalid")
			return opentherm.Value{}, &opentherm.EncodingError{Encoding: e.Field, Reason: fmt.Sprintf("%s is not a number", v)}
		}
		min, max := s.effectiveBounds(ctx, e, now)
		clamped := clamp(n, min, max)
		if clamped != n {
			s.logger.Debug("scheduler@write clamped", zap.String("entity", entityID), zap.Float64("requested", n), zap.Float64("value", clamped))
		}
		v = opentherm.Float(clamped)
	}

	var previous *uint16
	if raw, ok := s.store.Raw(e.Message); ok {
		previous = &raw
	}
	payload, err := opentherm.Encode(e.Field, v, previous)
	if err != nil {
		s.metrics.Write("invalid")
		return opentherm.Value{}, err
	}

	resp, err := s.exchange(ctx, e.Message, opentherm.WriteData, payload, now)
	if err != nil {
		s.metrics.Write("error")
		return opentherm.Value{}, &WriteError{Entity: entityID, Err: err}
	}
	if resp.Type != opentherm.WriteAck {
		s.metrics.Write("rejected")
		return opentherm.Value{}, &WriteError{Entity: entityID, Response: resp.Type}
	}
	s.apply(resp, now)
	s.metrics.Write("ok")
	return opentherm.Decode(e.Field, resp.Payload), nil
}

func (s *Scheduler) writeStatusFlag(ctx context.Context, e schema.Entity, v opentherm.Value, now time.Time) (opentherm.Value, error) {
	on, ok := v.Flag()
	if !ok {
		s.metrics.Write("invalid")
		return opentherm.Value{}, &opentherm.EncodingError{Encoding: e.Field, Reason: fmt.Sprintf("cannot encode %s as a flag", v)}
	}
	// the flag is only committed once the boiler acknowledges the Status frame
	previous, had := s.desired[e.Field.Bit]
	s.desired[e.Field.Bit] = on
	payload := s.masterStatus()
	if had {
		s.desired[e.Field.Bit] = previous
	} else {
		delete(s.desired, e.Field.Bit)
	}

	resp, err := s.exchange(ctx, opentherm.Status, opentherm.ReadData, payload, now)
	if err != nil {
		s.metrics.Write("error")
		return opentherm.Value{}, &WriteError{Entity: e.ID(), Err: err}
	}
	if resp.Type != opentherm.ReadAck {
		s.metrics.Write("rejected")
		return opentherm.Value{}, &WriteError{Entity: e.ID(), Response: resp.Type}
	}
	s.desired[e.Field.Bit] = on
	s.apply(resp, now)
	s.metrics.Write("ok")
	return opentherm.Decode(e.Field, resp.Payload), nil
}

// effectiveBounds reads missing auto bound sources before returning the
// learned bounds, falling back to the static range.
func (s *Scheduler) effectiveBounds(ctx context.Context, e schema.Entity, now time.Time) (float64, float64) {
	learnedMin, learnedMax := s.store.Learned(e.ID())
	if (e.AutoMin != nil && learnedMin == nil) || (e.AutoMax != nil && learnedMax == nil) {
		for _, src := range s.reg.BoundSources(e) {
			resp, err := s.exchange(ctx, src, opentherm.ReadData, 0, now)
			if err == nil && resp.Type == opentherm.ReadAck {
				s.apply(resp, now)
			}
		}
		learnedMin, learnedMax = s.store.Learned(e.ID())
	}

	min, max := e.Range.Min, e.Range.Max
	if learnedMin != nil {
		min = *learnedMin
	}
	if learnedMax != nil {
		max = *learnedMax
	}
	return min, max
}

func (s *Scheduler) exchange(ctx context.Context, id opentherm.DataID, t opentherm.MessageType, payload uint16, now time.Time) (opentherm.Frame, error) {
	start := time.Now()
	resp, err := s.bus.SendRequest(ctx, id, t, payload)
	s.lastRequest = now

	result := "ack"
	switch {
	case errors.Is(err, opentherm.ErrBusTimeout):
		result = "timeout"
	case errors.Is(err, opentherm.ErrBusParity):
		result = "parity"
	case err != nil:
		result = "error"
	case !resp.Type.IsAck():
		result = resp.Type.String()
	}
	s.metrics.BusRequest(id.String(), t.String(), result, time.Since(start))

	if err == nil && resp.DataID != id {
		err = fmt.Errorf("response for %s while waiting for %s", resp.DataID, id)
	}
	if err != nil {
		s.logger.Debug("scheduler@exchange failed", zap.Stringer("message", id), zap.Stringer("type", t), zap.Error(err))
	}
	return resp, err
}

// apply stores the raw payload and publishes every aliased entity.
func (s *Scheduler) apply(f opentherm.Frame, at time.Time) {
	id := f.DataID
	s.store.SetRaw(id, f.Payload)
	s.lastRead[id] = at
	s.satisfied[id] = true
	if s.unavailable[id] {
		delete(s.unavailable, id)
		s.metrics.SetUnavailable(len(s.unavailable))
	}
	if iv, ok := s.intervals[id]; ok && s.phase == Steady {
		s.nextDue[id] = at.Add(iv)
	}

	for _, e := range s.reg.ForMessage(id) {
		if e.Field.Kind == opentherm.KindDate {
			continue
		}
		s.set(e, opentherm.Decode(e.Field, f.Payload), at)
	}

	for _, target := range s.reg.BoundTargets(id) {
		if n, ok := opentherm.Decode(target.Field, f.Payload).Number(); ok {
			s.store.SetLearned(target.Entity.ID(), target.Max, n)
		}
	}

	if registry.IsDatePart(id) {
		s.date.update(id, f.Payload)
		if text, ok := s.date.text(); ok {
			for _, e := range s.reg.DateEntities() {
				s.set(e, opentherm.Text(text), at)
			}
		}
	}
}

func (s *Scheduler) set(e schema.Entity, v opentherm.Value, at time.Time) {
	if s.store.Set(e.ID(), v, at) {
		s.metrics.EntityUpdated()
		s.pub.Publish(Update{Entity: e, Value: v, At: at})
	}
}

func (s *Scheduler) markUnavailable(id opentherm.DataID) {
	s.unavailable[id] = true
	for _, e := range s.reg.ForMessage(id) {
		s.store.MarkUnavailable(e.ID())
	}
	s.metrics.SetUnavailable(len(s.unavailable))
}

func (s *Scheduler) readPayload(id opentherm.DataID) uint16 {
	if id == opentherm.Status {
		return s.masterStatus()
	}
	return 0
}

func responseOrNil(f opentherm.Frame, err error) *opentherm.Frame {
	if err != nil {
		return nil
	}
	return &f
}

func failure(f opentherm.Frame, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: boiler answered %s", f.DataID, f.Type)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
