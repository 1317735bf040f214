package reschedule

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/client/clienttest"
	"github.com/julianstephens/milkrun/internal/errors"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/utils"
)

const subID = "sub-1"

var today = time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Coordinator, *clienttest.Fake, *session.Session) {
	t.Helper()
	fake := &clienttest.Fake{
		Subscription: &models.Subscription{
			ID: subID, SubscriptionID: "MR-0001", Status: models.SubscriptionActive, Slot: models.SlotMorning,
			StartDate: "2024-06-01", EndDate: "2024-06-30",
			Products: []models.SubscriptionProduct{{ProductID: "milk", Name: "Milk", DeliveryFrequency: models.FrequencyDaily, MaxDeliveries: 30}},
		},
		Deliveries: []models.Delivery{
			{ID: "d9", Date: "2024-06-09", Slot: models.SlotMorning, Status: models.DeliveryScheduled},
			{ID: "d10", Date: "2024-06-10T00:00:00.000Z", Slot: models.SlotMorning, Status: models.DeliveryScheduled},
			{ID: "d11", Date: "2024-06-11", Slot: models.SlotMorning, Status: models.DeliveryScheduled},
			{ID: "d12", Date: "2024-06-12", Slot: models.SlotMorning, Status: models.DeliveryReaching},
			{ID: "d13", Date: "2024-06-13", Slot: models.SlotMorning, Status: models.DeliveryConcession, Concession: true,
				ConcessionDetails: &models.ConcessionDetails{OriginalDate: "2024-06-08", RescheduledTo: "2024-06-13", ExtendedSubscription: true}},
			{ID: "d14", Date: "2024-06-14", Slot: models.SlotMorning, Status: models.DeliveryDelivered},
		},
	}
	sess := session.New(fake)
	_, err := sess.LoadSubscription(context.Background())
	require.NoError(t, err)
	_, err = sess.LoadCalendar(context.Background(), subID, 2024, time.June)
	require.NoError(t, err)
	return New(fake, sess, utils.FixedClock(today)), fake, sess
}

func TestChangeSlot_MorningToEvening(t *testing.T) {
	c, fake, sess := setup(t)

	res, err := c.ChangeSlot(context.Background(), subID, "2024-06-10", models.SlotEvening)
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Kind)

	calls := fake.CallsTo("ChangeDeliverySlot")
	require.Len(t, calls, 1)
	assert.Equal(t, []interface{}{subID, "2024-06-10", models.SlotEvening}, calls[0].Args)
	assert.Len(t, fake.CallsTo("GetDeliveryCalendar"), 2, "calendar must be refreshed after the change")

	d, ok := sess.Delivery("2024-06-10")
	require.True(t, ok)
	assert.Equal(t, models.SlotEvening, d.Slot)
}

func TestChangeSlot_SameSlotIsNoChange(t *testing.T) {
	c, fake, _ := setup(t)

	res, err := c.ChangeSlot(context.Background(), subID, "2024-06-11", models.SlotMorning)
	require.NoError(t, err)
	assert.Equal(t, NoChange, res.Kind)
	assert.Empty(t, fake.CallsTo("ChangeDeliverySlot"))
}

func TestChangeSlot_SameSlotOnPastOrDeliveredDayIsNoChange(t *testing.T) {
	c, fake, _ := setup(t)

	for _, date := range []string{"2024-06-09", "2024-06-14"} {
		res, err := c.ChangeSlot(context.Background(), subID, date, models.SlotMorning)
		require.NoError(t, err, date)
		assert.Equal(t, NoChange, res.Kind, date)
	}
	assert.Empty(t, fake.CallsTo("ChangeDeliverySlot"))
}

func TestChangeSlot_Validation(t *testing.T) {
	c, fake, _ := setup(t)

	tests := []struct {
		name string
		date string
		slot models.Slot
	}{
		{"past", "2024-06-09", models.SlotEvening},
		{"delivered", "2024-06-14", models.SlotEvening},
		{"compensated", "2024-06-13", models.SlotEvening},
		{"no delivery", "2024-06-20", models.SlotEvening},
		{"bad slot", "2024-06-11", models.Slot("noon")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ChangeSlot(context.Background(), subID, tt.date, tt.slot)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrValidation), "got %v", err)
		})
	}
	assert.Empty(t, fake.CallsTo("ChangeDeliverySlot"))
}

func TestChangeSlot_DeclineKeepsStateAndMessage(t *testing.T) {
	c, fake, sess := setup(t)
	fake.SlotFunc = func(id, date string, slot models.Slot) (models.Result, error) {
		return models.Result{}, client.NewServerError(409, "slot_full", "Evening slot is full for this date")
	}
	before := sess.Snapshot()

	_, err := c.ChangeSlot(context.Background(), subID, "2024-06-11", models.SlotEvening)
	require.Error(t, err)

	var mr *errors.MutationRejected
	require.True(t, stderrors.As(err, &mr))
	assert.Equal(t, "Evening slot is full for this date", mr.Error())
	assert.False(t, mr.Retryable())
	assert.Equal(t, before, sess.Snapshot())
	assert.Len(t, fake.CallsTo("GetDeliveryCalendar"), 1)
}

func TestChangeSlot_TransportFailureIsRetryable(t *testing.T) {
	c, fake, _ := setup(t)
	fake.SlotFunc = func(id, date string, slot models.Slot) (models.Result, error) {
		return models.Result{}, stderrors.New("dial tcp: connection refused")
	}

	_, err := c.ChangeSlot(context.Background(), subID, "2024-06-11", models.SlotEvening)
	var mr *errors.MutationRejected
	require.True(t, stderrors.As(err, &mr))
	assert.True(t, mr.Retryable())
	assert.Len(t, fake.CallsTo("ChangeDeliverySlot"), 1, "no automatic retry")
}

func TestOneSubmissionAtATime(t *testing.T) {
	c, fake, _ := setup(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	fake.SlotFunc = func(id, date string, slot models.Slot) (models.Result, error) {
		close(entered)
		<-release
		return models.Result{Success: true, Message: "ok"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.ChangeSlot(context.Background(), subID, "2024-06-11", models.SlotEvening)
		done <- err
	}()
	<-entered
	assert.True(t, c.Busy())

	_, err := c.ChangeSlot(context.Background(), subID, "2024-06-12", models.SlotEvening)
	assert.ErrorIs(t, err, errors.ErrSubmissionInFlight)
	_, err = c.Confirm(context.Background(), subID, "2024-06-10")
	assert.ErrorIs(t, err, errors.ErrSubmissionInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, c.Busy())
	assert.Len(t, fake.CallsTo("ChangeDeliverySlot"), 1)
}

func TestRescheduleOne(t *testing.T) {
	c, fake, sess := setup(t)
	ctx := context.Background()

	_, err := c.RescheduleOne(ctx, subID, "2024-06-11", "", models.SlotMorning)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = c.RescheduleOne(ctx, subID, "2024-06-11", "2024-07-02", models.SlotMorning)
	assert.ErrorIs(t, err, errors.ErrValidation, "target must come from an availability query")

	dates, err := c.AvailableDates(ctx, subID, "2024-06-11", models.SlotMorning, 1)
	require.NoError(t, err)
	require.NotEmpty(t, dates)

	_, err = c.RescheduleOne(ctx, subID, "2024-06-11", "2024-06-25", models.SlotMorning)
	assert.ErrorIs(t, err, errors.ErrValidation, "a date outside the offered list is rejected")
	assert.Empty(t, fake.CallsTo("RescheduleDelivery"))

	res, err := c.RescheduleOne(ctx, subID, "2024-06-11", dates[0].Date+"T00:00:00Z", models.SlotMorning)
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Kind)
	require.Len(t, fake.CallsTo("RescheduleDelivery"), 1)
	assert.Equal(t, []interface{}{subID, "2024-06-11", dates[0].Date, models.SlotMorning}, fake.CallsTo("RescheduleDelivery")[0].Args)

	_, ok := sess.Delivery("2024-06-11")
	assert.False(t, ok, "the delivery left June 11")
}

func TestRescheduleOne_ConcessionRejected(t *testing.T) {
	c, fake, _ := setup(t)
	_, err := c.RescheduleOne(context.Background(), subID, "2024-06-13", "2024-07-02", models.SlotMorning)
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Empty(t, fake.CallsTo("RescheduleDelivery"))
}

func TestRescheduleBulk_RequiresSelection(t *testing.T) {
	c, fake, _ := setup(t)

	_, err := c.RescheduleBulk(context.Background(), subID, nil, "2024-07-01", models.SlotMorning)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = c.RescheduleBulk(context.Background(), subID, []string{"2024-06-11"}, "", models.SlotMorning)
	assert.ErrorIs(t, err, errors.ErrValidation)

	assert.Empty(t, fake.Calls[2:], "no service call after the initial loads")
}

func TestRescheduleBulk(t *testing.T) {
	c, fake, sess := setup(t)
	ctx := context.Background()

	c.Selection.Enter()
	require.True(t, c.Selection.Toggle("2024-06-12", deliveryOn(t, sess, "2024-06-12"), c.Today()))
	require.True(t, c.Selection.Toggle("2024-06-11", deliveryOn(t, sess, "2024-06-11"), c.Today()))
	assert.Equal(t, []string{"2024-06-11", "2024-06-12"}, c.Selection.Dates())

	dates, err := c.BulkAvailability(ctx, subID, c.Selection.Dates(), models.SlotEvening)
	require.NoError(t, err)
	avail := fake.CallsTo("GetAvailableRescheduleDates")
	require.Len(t, avail, 1)
	assert.Equal(t, []interface{}{subID, "2024-06-11", models.SlotEvening, 2}, avail[0].Args)

	res, err := c.RescheduleBulk(ctx, subID, c.Selection.Dates(), dates[0].Date, models.SlotEvening)
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Kind)
	assert.False(t, c.Selection.Active(), "selection mode ends on success")
	assert.Zero(t, c.Selection.Len())
	require.Len(t, fake.CallsTo("RescheduleMultipleDeliveries"), 1)
}

func TestRescheduleBulk_FailureKeepsSelection(t *testing.T) {
	c, fake, sess := setup(t)
	ctx := context.Background()
	fake.BulkFunc = func(id string, from []string, start string, slot models.Slot) (models.Result, error) {
		return models.Result{}, client.NewServerError(409, "date_unavailable", "Those dates are no longer free")
	}

	c.Selection.Enter()
	c.Selection.Toggle("2024-06-11", deliveryOn(t, sess, "2024-06-11"), c.Today())
	dates, err := c.BulkAvailability(ctx, subID, c.Selection.Dates(), models.SlotMorning)
	require.NoError(t, err)

	_, err = c.RescheduleBulk(ctx, subID, c.Selection.Dates(), dates[0].Date, models.SlotMorning)
	require.Error(t, err)
	assert.Equal(t, "Those dates are no longer free", errors.UserMessage(err))
	assert.True(t, c.Selection.Active())
	assert.Equal(t, 1, c.Selection.Len())
}

func TestConfirm_AwaitingCustomer(t *testing.T) {
	c, fake, sess := setup(t)
	fake.SetDelivery(models.Delivery{ID: "d10", Date: "2024-06-10", Slot: models.SlotMorning, Status: models.DeliveryAwaitingCustomer})
	require.NoError(t, sess.Refresh(context.Background()))

	d := deliveryOn(t, sess, "2024-06-10")
	assert.True(t, Has(Actions(d, c.Today()), ActionConfirm))

	res, err := c.Confirm(context.Background(), subID, "2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Kind)

	d = deliveryOn(t, sess, "2024-06-10")
	assert.Equal(t, models.DeliveryDelivered, d.Status)
	assert.False(t, Has(Actions(d, c.Today()), ActionConfirm))
}

func TestConfirm_ScheduledIsOfferedButMayBeRejected(t *testing.T) {
	c, _, sess := setup(t)
	d := deliveryOn(t, sess, "2024-06-10")
	assert.True(t, ConfirmOffered(d, c.Today()))

	before := sess.Snapshot()
	_, err := c.Confirm(context.Background(), subID, "2024-06-10")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfirmationRejected)
	assert.ErrorIs(t, err, errors.ErrMutationRejected)
	assert.Equal(t, "Delivery is not awaiting confirmation", errors.UserMessage(err))
	assert.Equal(t, before, sess.Snapshot())
}

func TestConfirm_OtherServerErrorsAreNotConfirmationRejections(t *testing.T) {
	c, fake, _ := setup(t)
	fake.ConfirmFunc = func(id, date string) (models.Result, error) {
		return models.Result{}, client.NewServerError(500, "internal_error", "database is locked")
	}

	_, err := c.Confirm(context.Background(), subID, "2024-06-10")
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, errors.ErrConfirmationRejected))
	var mr *errors.MutationRejected
	require.True(t, stderrors.As(err, &mr))
	assert.Equal(t, "internal_error", mr.Code)
	assert.Equal(t, "database is locked", errors.UserMessage(err))
}

func TestConfirm_OnlyToday(t *testing.T) {
	c, fake, _ := setup(t)
	_, err := c.Confirm(context.Background(), subID, "2024-06-11")
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Empty(t, fake.CallsTo("ConfirmDelivery"))
}

func TestActions(t *testing.T) {
	_, _, sess := setup(t)
	day := utils.DateKeyOf(today)

	tests := []struct {
		date string
		want []Action
	}{
		{"2024-06-09", nil},
		{"2024-06-10", []Action{ActionChangeSlot, ActionReschedule, ActionSelect, ActionConfirm}},
		{"2024-06-11", []Action{ActionChangeSlot, ActionReschedule, ActionSelect}},
		{"2024-06-13", []Action{ActionExplain}},
		{"2024-06-14", nil},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, Actions(deliveryOn(t, sess, tt.date), day))
		})
	}
	assert.Nil(t, Actions(nil, day))
}

func deliveryOn(t *testing.T, sess *session.Session, date string) *models.Delivery {
	t.Helper()
	d, ok := sess.Delivery(date)
	require.True(t, ok, "no delivery on %s", date)
	return &d
}
