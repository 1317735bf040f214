// Package session holds the customer's current subscription and the
// deliveries of the month being viewed. It is the only owner of that state:
// other components read snapshots and ask for a refresh instead of mutating.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/errors"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// ErrStaleResponse is returned when a calendar response arrives for a month
// (or subscription) that is no longer selected. The response is dropped.
var ErrStaleResponse = stderrors.New("calendar response is no longer current")

// State describes what is known about the customer's subscription.
type State int

const (
	StateUnknown State = iota // nothing loaded yet
	StateLoaded               // an active subscription is loaded
	StateNone                 // the customer has no active subscription
	StateFailed               // the last load failed; retry is possible
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateNone:
		return "none"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Month identifies one calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// Anchor returns the first day of the month in UTC.
func (m Month) Anchor() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) Next() Month { return MonthOf(m.Anchor().AddDate(0, 1, 0)) }

func (m Month) Prev() Month { return MonthOf(m.Anchor().AddDate(0, -1, 0)) }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// Snapshot is a deep copy of the session state.
type Snapshot struct {
	State        State
	Subscription *models.Subscription
	Month        Month
	// Deliveries holds the selected month only. It is empty until that month
	// has loaded.
	Deliveries     []models.Delivery
	CalendarLoaded bool
	Err            error
}

// Session is safe for concurrent use.
type Session struct {
	svc   client.Service
	group singleflight.Group

	mu             sync.Mutex
	state          State
	sub            *models.Subscription
	month          Month
	deliveries     []models.Delivery
	calendarMonth  Month
	calendarSubID  string
	lastErr        error
	requestSeq     uint64
	appliedSeq     uint64
	generation     uint64
	listeners      map[int]func(Snapshot)
	nextListenerID int
}

// New creates a session backed by svc.
func New(svc client.Service) *Session {
	return &Session{
		svc:       svc,
		listeners: make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to receive a snapshot after every state change. The
// returned function removes the listener.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Month:      s.month,
		Err:        s.lastErr,
		Deliveries: []models.Delivery{},
	}
	if s.sub != nil {
		sub := s.sub.Clone()
		snap.Subscription = &sub
	}
	if s.calendarLoadedLocked() {
		snap.Deliveries = models.CloneDeliveries(s.deliveries)
		snap.CalendarLoaded = true
	}
	return snap
}

func (s *Session) calendarLoadedLocked() bool {
	return s.sub != nil && s.calendarMonth == s.month && s.calendarSubID == s.sub.ID
}

// notify must be called without s.mu held.
func (s *Session) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// SelectMonth marks the month the UI is showing. It reports whether the
// selection changed, in which case the caller should load the calendar.
func (s *Session) SelectMonth(year int, month time.Month) bool {
	want := MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
	s.mu.Lock()
	changed := s.month != want
	s.month = want
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

// LoadSubscription fetches the customer's active subscription. A customer
// without one ends in StateNone with a nil error; a failed fetch ends in
// StateFailed and returns a FetchError.
func (s *Session) LoadSubscription(ctx context.Context) (*models.Subscription, error) {
	sub, err := s.svc.GetMySubscription(ctx)
	if err != nil {
		fetchErr := &errors.FetchError{Resource: "subscription", Err: err}
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = fetchErr
		s.mu.Unlock()
		logger.Warn("subscription load failed", "error", err)
		s.notify()
		return nil, fetchErr
	}

	s.applySubscription(sub)
	s.notify()
	if sub == nil {
		return nil, nil
	}
	out := sub.Clone()
	return &out, nil
}

func (s *Session) applySubscription(sub *models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
	if sub == nil {
		s.state = StateNone
		s.sub = nil
		s.deliveries = nil
		s.calendarSubID = ""
		return
	}
	cp := sub.Clone()
	s.state = StateLoaded
	s.sub = &cp
}

// LoadCalendar fetches one month of deliveries and selects that month.
// Concurrent loads of the same month share a single service call. When the
// response arrives after a different month or subscription has been selected,
// or after a newer load has been applied, it is discarded with ErrStaleResponse.
func (s *Session) LoadCalendar(ctx context.Context, subscriptionID string, year int, month time.Month) ([]models.Delivery, error) {
	want := MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))

	s.mu.Lock()
	s.month = want
	s.requestSeq++
	seq := s.requestSeq
	gen := s.generation
	s.mu.Unlock()

	payload, issued, err := s.fetchCalendar(ctx, subscriptionID, want, gen, seq)
	if err != nil {
		fetchErr := &errors.FetchError{Resource: "calendar", Err: err}
		s.mu.Lock()
		current := s.month == want
		if current {
			s.lastErr = fetchErr
		}
		s.mu.Unlock()
		logger.Warn("calendar load failed", "subscription", subscriptionID, "month", want, "error", err)
		if current {
			s.notify()
		}
		return nil, fetchErr
	}

	deliveries := payload.Deliveries()
	if !s.applyCalendar(subscriptionID, want, issued, deliveries) {
		logger.Debug("discarding stale calendar response", "subscription", subscriptionID, "month", want)
		return nil, ErrStaleResponse
	}
	s.notify()
	return models.CloneDeliveries(deliveries), nil
}

type calendarFetch struct {
	payload client.CalendarPayload
	seq     uint64
}

// fetchCalendar returns the payload and the sequence number of the load that
// issued the call. A joined call is applied under the issuer's number, so it
// can never override a response that was requested later. Refresh bumps the
// generation, so loads after a mutation never join a fetch started before it.
func (s *Session) fetchCalendar(ctx context.Context, subscriptionID string, m Month, gen, seq uint64) (client.CalendarPayload, uint64, error) {
	key := fmt.Sprintf("%s/%s/%d", subscriptionID, m, gen)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		payload, err := s.svc.GetDeliveryCalendar(ctx, subscriptionID, m.Year, int(m.Month))
		if err != nil {
			return nil, err
		}
		return calendarFetch{payload: payload, seq: seq}, nil
	})
	if shared {
		logger.Debug("calendar fetch shared", "key", key)
	}
	if err != nil {
		return client.CalendarPayload{}, 0, err
	}
	res := v.(calendarFetch)
	return res.payload, res.seq, nil
}

func (s *Session) applyCalendar(subscriptionID string, m Month, seq uint64, deliveries []models.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.month != m || seq < s.appliedSeq {
		return false
	}
	if s.sub != nil && s.sub.ID != subscriptionID {
		return false
	}
	s.deliveries = deliveries
	s.calendarMonth = m
	s.calendarSubID = subscriptionID
	s.appliedSeq = seq
	s.lastErr = nil
	return true
}

// Focus reloads the subscription, as when the screen regains focus, and then
// the selected month if a subscription is present.
func (s *Session) Focus(ctx context.Context) error {
	sub, err := s.LoadSubscription(ctx)
	if err != nil || sub == nil {
		return err
	}
	s.mu.Lock()
	m := s.month
	s.mu.Unlock()
	if m.IsZero() {
		return nil
	}
	if _, err := s.LoadCalendar(ctx, sub.ID, m.Year, m.Month); err != nil && !stderrors.Is(err, ErrStaleResponse) {
		return err
	}
	return nil
}

// Refresh reloads the subscription and the selected month after a mutation.
// Nothing is applied unless both fetches succeed.
func (s *Session) Refresh(ctx context.Context) error {
	sub, err := s.svc.GetMySubscription(ctx)
	if err != nil {
		logger.Warn("refresh failed", "resource", "subscription", "error", err)
		return &errors.FetchError{Resource: "subscription", Err: err}
	}

	s.mu.Lock()
	m := s.month
	s.requestSeq++
	seq := s.requestSeq
	s.generation++
	s.mu.Unlock()

	var deliveries []models.Delivery
	if sub != nil && !m.IsZero() {
		payload, err := s.svc.GetDeliveryCalendar(ctx, sub.ID, m.Year, int(m.Month))
		if err != nil {
			logger.Warn("refresh failed", "resource", "calendar", "month", m, "error", err)
			return &errors.FetchError{Resource: "calendar", Err: err}
		}
		deliveries = payload.Deliveries()
	}

	s.applySubscription(sub)
	if sub != nil && !m.IsZero() {
		s.applyCalendar(sub.ID, m, seq, deliveries)
	}
	s.notify()
	return nil
}

// Delivery returns a copy of the loaded delivery on date, if the selected
// month contains one.
func (s *Session) Delivery(date string) (models.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.calendarLoadedLocked() {
		return models.Delivery{}, false
	}
	for _, d := range s.deliveries {
		if utils.SameDay(d.Date, date) {
			return d.Clone(), true
		}
	}
	return models.Delivery{}, false
}
