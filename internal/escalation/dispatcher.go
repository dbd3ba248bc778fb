package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/solace/internal/events"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/reliability"
)

// AlertStore is the slice of the repository the dispatcher writes to.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert memory.CrisisAlert) (memory.CrisisAlert, error)
	UpdateAlertDelivery(ctx context.Context, id string, update memory.DeliveryUpdate) (memory.CrisisAlert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (memory.CrisisAlert, error)
}

// Publisher receives alert lifecycle events.
type Publisher interface {
	Publish(e events.Event) events.Event
}

// Tiers maps alert severity to the channels that must be tried.
type Tiers map[memory.Severity][]Channel

// BuildTiers puts push in every escalating tier. Medium alerts go to push
// only; high alerts also go to every external channel.
func BuildTiers(push Channel, external ...Channel) Tiers {
	tiers := Tiers{}
	if push != nil {
		tiers[memory.SeverityMedium] = []Channel{push}
		tiers[memory.SeverityHigh] = []Channel{push}
	}
	for _, ch := range external {
		if ch != nil {
			tiers[memory.SeverityHigh] = append(tiers[memory.SeverityHigh], ch)
		}
	}
	return tiers
}

type Config struct {
	ChannelTimeout time.Duration
	Ceiling        time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
	RetryCap       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChannelTimeout: 10 * time.Second,
		Ceiling:        30 * time.Second,
		MaxAttempts:    3,
		RetryBase:      500 * time.Millisecond,
		RetryCap:       5 * time.Second,
	}
}

// Dispatcher fans a crisis alert out to its tier's channels and records each
// channel's outcome on the alert.
type Dispatcher struct {
	store   AlertStore
	tiers   Tiers
	cfg     Config
	metrics *observability.Metrics
	bus     Publisher
	now     func() time.Time

	late sync.WaitGroup
}

func NewDispatcher(store AlertStore, tiers Tiers, cfg Config, metrics *observability.Metrics, bus Publisher) *Dispatcher {
	def := DefaultConfig()
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = def.ChannelTimeout
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryCap < cfg.RetryBase {
		cfg.RetryCap = cfg.RetryBase
	}
	return &Dispatcher{
		store:   store,
		tiers:   tiers,
		cfg:     cfg,
		metrics: metrics,
		bus:     bus,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Validate fails when any of the required severities has no channel.
func (d *Dispatcher) Validate(required ...memory.Severity) error {
	for _, sev := range required {
		if len(d.tiers[sev]) == 0 {
			return fmt.Errorf("validate %s tier: %w", sev, ErrNoChannels)
		}
	}
	return nil
}

// ChannelIDs lists the configured channel ids per tier.
func (d *Dispatcher) ChannelIDs() map[memory.Severity][]string {
	out := make(map[memory.Severity][]string, len(d.tiers))
	for sev, chans := range d.tiers {
		for _, ch := range chans {
			out[sev] = append(out[sev], ch.ID())
		}
	}
	return out
}

// Open persists a new alert in the created state without dispatching it.
func (d *Dispatcher) Open(ctx context.Context, alert memory.CrisisAlert) (memory.CrisisAlert, error) {
	alert.Status = memory.AlertCreated
	created, err := d.store.InsertAlert(context.WithoutCancel(ctx), alert)
	if err != nil {
		return memory.CrisisAlert{}, fmt.Errorf("insert alert: %w", err)
	}
	d.publish(events.AlertCreated, created)
	log.Warn().
		Str("alert_id", created.ID).
		Str("user_id", created.UserID).
		Str("alert_type", created.AlertType).
		Str("severity", string(created.Severity)).
		Msg("crisis alert opened")
	return created, nil
}

// Dispatch delivers alert on every enabled channel of its tier. It returns once
// all channels settled or the ceiling elapsed. Channels still running at the
// ceiling are left to finish; their outcome is persisted when they do.
func (d *Dispatcher) Dispatch(ctx context.Context, alert memory.CrisisAlert) (memory.CrisisAlert, error) {
	ctx = context.WithoutCancel(ctx)

	channels := d.channelsFor(alert)
	if len(channels) == 0 {
		d.metrics.FatalEscalationConfig()
		log.Error().
			Bool("fatal_config", true).
			Str("alert_id", alert.ID).
			Str("user_id", alert.UserID).
			Str("severity", string(alert.Severity)).
			Msg("crisis alert has no escalation channel")
		failed, err := d.store.UpdateAlertDelivery(ctx, alert.ID, memory.DeliveryUpdate{Status: memory.AlertFailed})
		if err != nil {
			log.Warn().Err(err).Str("alert_id", alert.ID).Msg("record undeliverable alert")
			failed = alert
		}
		d.metrics.AlertFinalized(string(alert.Severity), string(memory.AlertFailed))
		return failed, fmt.Errorf("dispatch alert %s (%s): %w", alert.ID, alert.Severity, ErrNoChannels)
	}

	run := newDispatchRun(channels)
	started, err := d.store.UpdateAlertDelivery(ctx, alert.ID, run.update(false))
	if err != nil {
		return alert, fmt.Errorf("mark alert dispatching: %w", err)
	}

	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			d.deliver(ctx, run, i, ch, started)
			return nil
		})
	}
	settled := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(settled)
	}()

	ceiling := time.NewTimer(d.cfg.Ceiling)
	defer ceiling.Stop()

	select {
	case <-settled:
		return d.finalize(ctx, started, run), nil
	case <-ceiling.C:
	}

	partial, err := d.store.UpdateAlertDelivery(ctx, alert.ID, run.update(false))
	if err != nil {
		log.Warn().Err(err).Str("alert_id", alert.ID).Msg("persist partial alert status")
		partial = started
	}
	log.Warn().
		Str("alert_id", alert.ID).
		Str("status", string(partial.Status)).
		Dur("ceiling", d.cfg.Ceiling).
		Msg("escalation ceiling reached with channels pending")

	d.late.Add(1)
	go func() {
		defer d.late.Done()
		<-settled
		d.finalize(ctx, started, run)
	}()
	return partial, nil
}

// Wait blocks until channels left running past the ceiling have settled.
func (d *Dispatcher) Wait() {
	d.late.Wait()
}

// Resolve closes an alert. Resolution is an explicit operator action.
func (d *Dispatcher) Resolve(ctx context.Context, id string) (memory.CrisisAlert, error) {
	resolved, err := d.store.ResolveAlert(ctx, id, d.now())
	if err != nil {
		return resolved, err
	}
	d.publish(events.AlertResolved, resolved)
	log.Info().Str("alert_id", id).Str("user_id", resolved.UserID).Msg("crisis alert resolved")
	return resolved, nil
}

func (d *Dispatcher) channelsFor(alert memory.CrisisAlert) []Channel {
	out := make([]Channel, 0, len(d.tiers[alert.Severity]))
	for _, ch := range d.tiers[alert.Severity] {
		if ch.EnabledFor(alert.UserID) {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, run *dispatchRun, i int, ch Channel, alert memory.CrisisAlert) {
	var result DeliveryResult
	policy := reliability.Policy{Attempts: d.cfg.MaxAttempts, Base: d.cfg.RetryBase, Cap: d.cfg.RetryCap}
	attempts, err := reliability.Retry(ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
		defer cancel()
		res, err := ch.Deliver(callCtx, alert)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		derr := &DeliveryError{ChannelID: ch.ID(), Attempts: attempts, Err: err}
		run.fail(i, derr)
		d.metrics.ChannelDelivery(ch.ID(), string(memory.DeliveryFailure))
		log.Warn().Err(derr).Str("alert_id", alert.ID).Str("channel", ch.ID()).Msg("escalation channel failed")
		return
	}
	run.succeed(i, attempts, result.Detail, d.now())
	d.metrics.ChannelDelivery(ch.ID(), string(memory.DeliverySuccess))
	log.Info().Str("alert_id", alert.ID).Str("channel", ch.ID()).Int("attempts", attempts).Msg("escalation delivered")
}

func (d *Dispatcher) finalize(ctx context.Context, alert memory.CrisisAlert, run *dispatchRun) memory.CrisisAlert {
	update := run.update(true)
	final, err := d.store.UpdateAlertDelivery(ctx, alert.ID, update)
	if err != nil {
		if errors.Is(err, memory.ErrAlertResolved) {
			log.Info().Str("alert_id", alert.ID).Msg("alert resolved before channels settled")
		} else {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("persist final alert status")
		}
		alert.Status = update.Status
		alert.Deliveries = update.Deliveries
		alert.EscalatedTo = update.EscalatedTo
		final = alert
	}
	d.metrics.AlertFinalized(string(final.Severity), string(final.Status))
	d.publish(events.AlertUpdated, final)
	log.Info().
		Str("alert_id", final.ID).
		Str("status", string(final.Status)).
		Strs("escalated_to", final.EscalatedTo).
		Msg("escalation settled")
	return final
}

func (d *Dispatcher) publish(t events.Type, alert memory.CrisisAlert) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.Event{
		Type:      t,
		UserID:    alert.UserID,
		SubjectID: alert.ID,
		Payload: map[string]any{
			"alert_type": alert.AlertType,
			"severity":   alert.Severity,
			"status":     alert.Status,
		},
	})
}

// dispatchRun collects per-channel outcomes while deliveries run.
type dispatchRun struct {
	mu         sync.Mutex
	deliveries []memory.ChannelDelivery
}

func newDispatchRun(channels []Channel) *dispatchRun {
	run := &dispatchRun{
		deliveries: make([]memory.ChannelDelivery, len(channels)),
	}
	for i, ch := range channels {
		run.deliveries[i] = memory.ChannelDelivery{ChannelID: ch.ID(), Status: memory.DeliveryPending}
	}
	return run
}

func (r *dispatchRun) succeed(i, attempts int, detail string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[i].Status = memory.DeliverySuccess
	r.deliveries[i].Attempts = attempts
	r.deliveries[i].Detail = detail
	r.deliveries[i].DeliveredAt = &at
}

func (r *dispatchRun) fail(i int, err *DeliveryError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[i].Status = memory.DeliveryFailure
	r.deliveries[i].Attempts = err.Attempts
	r.deliveries[i].Detail = err.Err.Error()
}

// update summarizes the run. With final set every channel has settled.
func (r *dispatchRun) update(final bool) memory.DeliveryUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := memory.DeliveryUpdate{Deliveries: make([]memory.ChannelDelivery, len(r.deliveries))}
	copy(out.Deliveries, r.deliveries)
	for _, d := range r.deliveries {
		if d.Status == memory.DeliverySuccess {
			out.EscalatedTo = append(out.EscalatedTo, d.ChannelID)
		}
	}
	delivered := len(out.EscalatedTo) > 0
	switch {
	case final && delivered:
		out.Status = memory.AlertDelivered
	case final:
		out.Status = memory.AlertFailed
	case delivered:
		out.Status = memory.AlertPartiallyDelivered
	default:
		out.Status = memory.AlertDispatching
	}
	return out
}
