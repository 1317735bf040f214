package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/models"
)

func TestCalendarPayload_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"date":"2024-05-01","status":"scheduled"},{"date":"2024-05-02","status":"delivered"}]`, 2},
		{"deliveries key", `{"deliveries":[{"date":"2024-05-01T00:00:00.000Z","status":"scheduled"}]}`, 1},
		{"data key", `{"data":[{"date":"2024-05-01","status":"scheduled"},{"date":"2024-05-03","status":"paused"},{"date":"2024-05-05","status":"concession"}]}`, 3},
		{"empty deliveries", `{"deliveries":[]}`, 0},
		{"null deliveries", `{"deliveries":null}`, 0},
		{"null data", `{"data":null}`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p CalendarPayload
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			assert.Len(t, p.Deliveries(), tt.want)
			assert.NotNil(t, p.Deliveries())
		})
	}
}

func TestCalendarPayload_Rejects(t *testing.T) {
	for _, body := range []string{`{"items":[]}`, `"nope"`, `{"deliveries":"x"}`} {
		var p CalendarPayload
		assert.Error(t, json.Unmarshal([]byte(body), &p), body)
	}
}

func TestCalendarPayload_DeliveriesIsCopy(t *testing.T) {
	p := NewCalendarPayload([]models.Delivery{{Date: "2024-05-01", Status: models.DeliveryScheduled}})
	got := p.Deliveries()
	got[0].Status = models.DeliveryCanceled
	assert.Equal(t, models.DeliveryScheduled, p.Deliveries()[0].Status)
}

func TestHTTPClient_GetMySubscription(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/subscriptions/me", r.URL.Path)
			assert.Equal(t, "cust-1", r.Header.Get(constants.CustomerHeader))
			_, _ = w.Write([]byte(`{"subscription":{"id":"sub-1","subscriptionId":"MR-0001","status":"active","slot":"morning"}}`))
		}))
		defer srv.Close()

		sub, err := NewHTTPClient(srv.URL, "cust-1").GetMySubscription(context.Background())
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "MR-0001", sub.SubscriptionID)
	})

	t.Run("absent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"subscription":null}`))
		}))
		defer srv.Close()

		sub, err := NewHTTPClient(srv.URL, "cust-1").GetMySubscription(context.Background())
		require.NoError(t, err)
		assert.Nil(t, sub)
	})

	t.Run("context customer wins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "cust-2", r.Header.Get(constants.CustomerHeader))
			_, _ = w.Write([]byte(`{"subscription":null}`))
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, "cust-1").GetMySubscription(WithCustomer(context.Background(), "cust-2"))
		require.NoError(t, err)
	})
}

func TestHTTPClient_GetDeliveryCalendar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub-1/calendar", r.URL.Path)
		assert.Equal(t, "2024", r.URL.Query().Get("year"))
		assert.Equal(t, "6", r.URL.Query().Get("month"))
		_, _ = w.Write([]byte(`{"data":[{"date":"2024-06-10","status":"scheduled","slot":"morning"}]}`))
	}))
	defer srv.Close()

	payload, err := NewHTTPClient(srv.URL, "").GetDeliveryCalendar(context.Background(), "sub-1", 2024, 6)
	require.NoError(t, err)
	require.Equal(t, 1, payload.Len())
	assert.Equal(t, models.SlotMorning, payload.Deliveries()[0].Slot)
}

func TestHTTPClient_GetDeliveryCalendar_EmptyMonth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"deliveries":null}`))
	}))
	defer srv.Close()

	payload, err := NewHTTPClient(srv.URL, "").GetDeliveryCalendar(context.Background(), "sub-1", 2024, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, payload.Len())
	assert.NotNil(t, payload.Deliveries())
}

func TestHTTPClient_ChangeDeliverySlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub-1/deliveries/2024-06-10/slot", r.URL.Path)
		var body SlotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, models.SlotEvening, body.Slot)
		_, _ = w.Write([]byte(`{"success":true,"message":"Slot updated"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, "c").ChangeDeliverySlot(context.Background(), "sub-1", "2024-06-10T00:00:00Z", models.SlotEvening)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Slot updated", res.Message)
}

func TestHTTPClient_RescheduleMultipleDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub-1/deliveries/reschedule", r.URL.Path)
		var body BulkRescheduleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"2024-06-10", "2024-06-11"}, body.FromDates)
		assert.Equal(t, "2024-07-01", body.NewStartDate)
		_, _ = w.Write([]byte(`{"success":true,"message":"2 deliveries moved"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, "c").RescheduleMultipleDeliveries(context.Background(), "sub-1",
		[]string{"2024-06-10T00:00:00Z", "2024-06-11"}, "2024-07-01T05:30:00+05:30", models.SlotMorning)
	require.NoError(t, err)
	assert.Equal(t, "2 deliveries moved", res.Message)
}

func TestHTTPClient_GetAvailableRescheduleDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2024-06-10", q.Get("anchor"))
		assert.Equal(t, "evening", q.Get("slot"))
		assert.Equal(t, "3", q.Get("consecutiveDays"))
		_, _ = w.Write([]byte(`{"availableDates":[{"date":"2024-07-01","slot":"evening","weekday":"Monday","blockEnd":"2024-07-03"}]}`))
	}))
	defer srv.Close()

	av, err := NewHTTPClient(srv.URL, "c").GetAvailableRescheduleDates(context.Background(), "sub-1", "2024-06-10", models.SlotEvening, 3)
	require.NoError(t, err)
	require.Len(t, av.AvailableDates, 1)
	assert.Equal(t, "2024-07-03", av.AvailableDates[0].BlockEnd)
}

func TestHTTPClient_ServerErrors(t *testing.T) {
	t.Run("structured decline keeps message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"confirmation_rejected","message":"Delivery is not awaiting confirmation"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, "c").ConfirmDelivery(context.Background(), "sub-1", "2024-06-10")
		var se *ServerError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusConflict, se.Status)
		assert.Equal(t, constants.CodeConfirmationRejected, se.Code)
		assert.Equal(t, "Delivery is not awaiting confirmation", se.Error())
	})

	t.Run("plain text body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL, "c").GetMySubscription(context.Background())
		var se *ServerError
		require.True(t, errors.As(err, &se))
		assert.Empty(t, se.Code)
		assert.Equal(t, "upstream exploded", se.Message)
	})

	t.Run("transport failure is not a server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := NewHTTPClient(url, "c").GetMySubscription(context.Background())
		require.Error(t, err)
		var se *ServerError
		assert.False(t, errors.As(err, &se))
	})
}
