package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/metrics"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/service"
	"github.com/julianstephens/milkrun/internal/storage/sqlite"
	"github.com/julianstephens/milkrun/internal/utils"
)

type harness struct {
	server  *httptest.Server
	client  *client.HTTPClient
	local   *service.Local
	metrics *metrics.Metrics
	sub     models.Subscription
}

func setup(t *testing.T) harness {
	t.Helper()
	store := sqlite.NewStore(filepath.Join(t.TempDir(), "milkrun.db"))
	require.NoError(t, store.Init())
	t.Cleanup(func() { store.Close() })

	settings := models.DefaultSettings()
	settings.Timezone = "UTC"
	require.NoError(t, store.SaveSettings(settings))

	local := service.New(store, service.WithClock(utils.FixedClock(time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))))
	ctx := client.WithCustomer(context.Background(), "cust-1")
	sub, err := local.CreateSubscription(ctx, service.NewSubscription{
		StartDate: "2024-06-01",
		EndDate:   "2024-06-30",
		Slot:      models.SlotMorning,
		Products: []models.SubscriptionProduct{
			{ProductID: "p-milk", Name: "Cow Milk", QuantityValue: 1, QuantityUnit: "L", DeliveryFrequency: models.FrequencyDaily, MaxDeliveries: 30},
		},
	})
	require.NoError(t, err)

	m := metrics.New()
	srv := httptest.NewServer(New(local, m).Router())
	t.Cleanup(srv.Close)

	return harness{
		server:  srv,
		client:  client.NewHTTPClient(srv.URL, "cust-1"),
		local:   local,
		metrics: m,
		sub:     sub,
	}
}

func TestRoundTrip_ReadPaths(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	sub, err := h.client.GetMySubscription(ctx)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, h.sub.SubscriptionID, sub.SubscriptionID)
	assert.Len(t, sub.Products, 1)

	payload, err := h.client.GetDeliveryCalendar(ctx, sub.ID, 2024, 6)
	require.NoError(t, err)
	assert.Equal(t, 30, payload.Len())

	avail, err := h.client.GetAvailableRescheduleDates(ctx, sub.ID, "2024-06-15", models.SlotEvening, 2)
	require.NoError(t, err)
	require.NotEmpty(t, avail.AvailableDates)
	assert.Equal(t, "2024-07-01", avail.AvailableDates[0].Date)
	assert.Equal(t, "2024-07-02", avail.AvailableDates[0].BlockEnd)
	assert.Equal(t, models.SlotEvening, avail.AvailableDates[0].Slot)
}

func TestRoundTrip_NoSubscription(t *testing.T) {
	h := setup(t)
	other := client.NewHTTPClient(h.server.URL, "cust-2")

	sub, err := other.GetMySubscription(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestRoundTrip_Mutations(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	res, err := h.client.ChangeDeliverySlot(ctx, h.sub.ID, "2024-06-12", models.SlotEvening)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = h.client.RescheduleDelivery(ctx, h.sub.ID, "2024-06-13", "2024-07-03", "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = h.client.RescheduleMultipleDeliveries(ctx, h.sub.ID, []string{"2024-06-20", "2024-06-21"}, "2024-07-10", models.SlotEvening)
	require.NoError(t, err)
	assert.True(t, res.Success)

	july, err := h.client.GetDeliveryCalendar(ctx, h.sub.ID, 2024, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, july.Len())
}

func TestRoundTrip_DeclinesKeepServerMessage(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.client.RescheduleDelivery(ctx, h.sub.ID, "2024-06-13", "2024-06-14", "")
	var se *client.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, constants.CodeUnavailableDate, se.Code)
	assert.Equal(t, "2024-06-14 already has a delivery.", se.Message)

	_, err = h.client.ConfirmDelivery(ctx, h.sub.ID, "2024-06-10")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, constants.CodeConfirmationRejected, se.Code)
	assert.Equal(t, "Delivery is not awaiting confirmation", se.Message)

	_, err = h.client.GetDeliveryCalendar(ctx, "no-such-subscription", 2024, 6)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestConfirm_AfterArrival(t *testing.T) {
	h := setup(t)
	ctx := client.WithCustomer(context.Background(), "cust-1")

	_, err := h.local.Advance(ctx, h.sub.ID, "2024-06-10", models.EventDispatch)
	require.NoError(t, err)
	_, err = h.local.Advance(ctx, h.sub.ID, "2024-06-10", models.EventArrive)
	require.NoError(t, err)

	res, err := h.client.ConfirmDelivery(context.Background(), h.sub.ID, "2024-06-10T00:00:00.000Z")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestMissingCustomer(t *testing.T) {
	h := setup(t)

	resp, err := http.Get(h.server.URL + "/v1/subscriptions/me")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), constants.CodeMissingCustomer)
}

func TestBadQueryAndBody(t *testing.T) {
	h := setup(t)

	req, _ := http.NewRequest(http.MethodGet, h.server.URL+"/v1/subscriptions/"+h.sub.ID+"/calendar?year=soon&month=6", nil)
	req.Header.Set(constants.CustomerHeader, "cust-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, h.server.URL+"/v1/subscriptions/"+h.sub.ID+"/deliveries/2024-06-12/slot", strings.NewReader("{"))
	req.Header.Set(constants.CustomerHeader, "cust-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := setup(t)

	resp, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, _ = h.client.RescheduleDelivery(context.Background(), h.sub.ID, "2024-06-13", "2024-06-14", "")

	resp, err = http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `milkrun_declines_total{code="date_unavailable"} 1`)
	assert.Contains(t, string(body), `route="/healthz"`)
}
