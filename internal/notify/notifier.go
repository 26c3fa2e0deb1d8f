package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"restroom-cloud/internal/engine/application/events"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/observability/metrics"
	"restroom-cloud/internal/subscribers"
)

// Transport delivers one rendered message to one subscriber.
type Transport interface {
	Send(ctx context.Context, subscriberID, text string) error
}

// Clock provides time for latency measurements.
type Clock interface {
	Now() time.Time
}

// Result describes one fan-out.
type Result struct {
	Floor     int
	Dropped   bool
	Attempted int
	Failed    int
}

// Notifier fans notices out to every subscriber on the device's floor. Each
// subscriber gets at most one attempt; failures are logged and never retried.
type Notifier struct {
	directory   subscribers.Directory
	transport   Transport
	templates   *Templates
	logger      *log.Logger
	clock       Clock
	channel     string
	sendTimeout time.Duration
	location    *time.Location
}

// Option configures the notifier.
type Option func(*Notifier)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithChannelName labels delivery metrics.
func WithChannelName(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.channel = name
		}
	}
}

// WithSendTimeout bounds each delivery.
func WithSendTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.sendTimeout = timeout
		}
	}
}

// WithLocation renders times in loc.
func WithLocation(loc *time.Location) Option {
	return func(n *Notifier) {
		if loc != nil {
			n.location = loc
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(directory subscribers.Directory, transport Transport, templates *Templates, opts ...Option) (*Notifier, error) {
	if directory == nil {
		return nil, errors.New("notifier: nil subscriber directory")
	}
	if transport == nil {
		return nil, errors.New("notifier: nil transport")
	}
	if templates == nil {
		defaults, err := NewTemplates(nil)
		if err != nil {
			return nil, err
		}
		templates = defaults
	}
	n := &Notifier{
		directory:   directory,
		transport:   transport,
		templates:   templates,
		logger:      log.Default(),
		clock:       systemClock{},
		channel:     "default",
		sendTimeout: 10 * time.Second,
		location:    time.UTC,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// HandleNotice implements the engine's notice sink. Delivery failures never fail the event.
func (n *Notifier) HandleNotice(ctx context.Context, notice events.DeviceNotice) error {
	_, err := n.Notify(ctx, notice)
	return err
}

// Notify renders the notice and sends it to every subscriber on the device's floor
// in parallel. A device without a positive floor number has no audience and the
// notice is dropped. Only a directory failure is returned.
func (n *Notifier) Notify(ctx context.Context, notice events.DeviceNotice) (Result, error) {
	if n == nil {
		return Result{}, errors.New("notifier: nil")
	}
	floor, ok := engine.FloorFromDeviceID(notice.DeviceID)
	if !ok {
		metrics.ObserveNotification(n.channel, metrics.ResultDropped, 0)
		return Result{Dropped: true}, nil
	}
	result := Result{Floor: floor}

	all, err := n.directory.ListSubscribers(ctx)
	if err != nil {
		n.logger.Printf("notifier: list subscribers failed device=%s err=%v", notice.DeviceID, err)
		return result, err
	}
	audience := subscribers.OnFloor(all, floor)
	if len(audience) == 0 {
		return result, nil
	}

	text, err := n.templates.Render(notice.Kind, n.templateData(notice, floor))
	if err != nil {
		n.logger.Printf("notifier: render %s failed device=%s err=%v", notice.Kind, notice.DeviceID, err)
		return result, err
	}

	var failed atomic.Int32
	var wg sync.WaitGroup
	for _, sub := range audience {
		wg.Add(1)
		go func(sub subscribers.Subscriber) {
			defer wg.Done()
			if err := n.send(ctx, sub.ID, text); err != nil {
				failed.Add(1)
				n.logger.Printf("notifier: %v", fmt.Errorf("%w: device=%s kind=%s subscriber=%s: %v",
					engine.ErrNotificationDelivery, notice.DeviceID, notice.Kind, sub.ID, err))
			}
		}(sub)
	}
	wg.Wait()

	result.Attempted = len(audience)
	result.Failed = int(failed.Load())
	return result, nil
}

func (n *Notifier) send(ctx context.Context, subscriberID, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()
	start := n.clock.Now()
	err := n.transport.Send(sendCtx, subscriberID, text)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveNotification(n.channel, result, n.clock.Now().Sub(start))
	return err
}

func (n *Notifier) templateData(notice events.DeviceNotice, floor int) TemplateData {
	summary := notice.Summary
	data := TemplateData{
		Kind:           string(notice.Kind),
		DeviceID:       notice.DeviceID,
		Floor:          floor,
		Conditions:     notice.ActiveConditions,
		ConditionText:  strings.Join(notice.ActiveConditions, ", "),
		Odor:           summary.Odor,
		Water:          summary.Water,
		Soap:           summary.SoapLabel(),
		Tissue:         summary.TissueLabel(),
		Time:           n.formatTime(notice.OccurredAt),
		AlertStartedAt: n.formatTime(notice.AlertStartedAt),
		ReminderNumber: notice.ReminderNumber,
	}
	if data.ConditionText == "" {
		data.ConditionText = "-"
	}
	return data
}

func (n *Notifier) formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(n.location).Format("02/01/2006 15:04:05")
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
