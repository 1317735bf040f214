package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSubscription() models.Subscription {
	return models.Subscription{
		ID:             "sub-1",
		SubscriptionID: "SUB-0001",
		CustomerID:     "cust-1",
		Status:         models.SubscriptionActive,
		StartDate:      "2024-06-01",
		EndDate:        "2024-06-30",
		Slot:           models.SlotMorning,
		PaymentMethod:  models.PaymentOnline,
		Products: []models.SubscriptionProduct{
			{ProductID: "p-milk", Name: "Cow Milk", QuantityValue: 1, QuantityUnit: "L", DeliveryFrequency: models.FrequencyDaily, MaxDeliveries: 30},
			{ProductID: "p-ghee", Name: "Ghee", QuantityValue: 250, QuantityUnit: "g", DeliveryFrequency: models.FrequencyWeekly, MaxDeliveries: 2},
		},
	}
}

func delivery(id, date string) models.Delivery {
	return models.Delivery{
		ID:     id,
		Date:   date,
		Slot:   models.SlotMorning,
		Status: models.DeliveryScheduled,
		Products: []models.DeliveryProduct{
			{ProductID: "p-milk", Name: "Cow Milk", QuantityValue: 1, QuantityUnit: "L"},
		},
	}
}

func TestInit_WritesDefaultSettings(t *testing.T) {
	store := setupTestStore(t)

	settings, err := store.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if settings != models.DefaultSettings() {
		t.Errorf("GetSettings() = %+v, want %+v", settings, models.DefaultSettings())
	}

	settings.RescheduleHorizonDays = 14
	settings.DefaultSlot = models.SlotEvening
	if err := store.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	got, err := store.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if got != settings {
		t.Errorf("GetSettings() = %+v, want %+v", got, settings)
	}
}

func TestLoad_Uninitialized(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.db"))
	if err := store.Load(); err == nil {
		t.Error("Load() error = nil, want error for missing database")
	}
}

func TestLoad_AfterInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first := NewStore(path)
	if err := first.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := first.AddSubscription(testSubscription()); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}
	first.Close()

	second := NewStore(path)
	if err := second.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer second.Close()

	if _, err := second.GetSubscription("sub-1"); err != nil {
		t.Errorf("GetSubscription() after reload error = %v", err)
	}
}

func TestSubscriptions(t *testing.T) {
	store := setupTestStore(t)
	sub := testSubscription()

	if err := store.AddSubscription(sub); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}

	t.Run("by id and by subscription id", func(t *testing.T) {
		for _, id := range []string{"sub-1", "SUB-0001"} {
			got, err := store.GetSubscription(id)
			if err != nil {
				t.Fatalf("GetSubscription(%q) error = %v", id, err)
			}
			if got.ID != "sub-1" || len(got.Products) != 2 {
				t.Errorf("GetSubscription(%q) = %+v", id, got)
			}
			if got.Products[0].ProductID != "p-milk" || got.Products[1].ProductID != "p-ghee" {
				t.Errorf("products out of order: %+v", got.Products)
			}
		}
	})

	t.Run("active lookup", func(t *testing.T) {
		got, err := store.GetActiveSubscription("cust-1")
		if err != nil {
			t.Fatalf("GetActiveSubscription() error = %v", err)
		}
		if got.ID != sub.ID {
			t.Errorf("GetActiveSubscription().ID = %q, want %q", got.ID, sub.ID)
		}

		_, err = store.GetActiveSubscription("nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetActiveSubscription(nobody) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate subscription id conflicts", func(t *testing.T) {
		dup := testSubscription()
		dup.ID = "sub-2"
		if err := store.AddSubscription(dup); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("AddSubscription(dup) error = %v, want ErrConflict", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		sub.Status = models.SubscriptionPaused
		sub.EndDate = "2024-07-01"
		if err := store.UpdateSubscription(sub); err != nil {
			t.Fatalf("UpdateSubscription() error = %v", err)
		}
		got, _ := store.GetSubscription("sub-1")
		if got.Status != models.SubscriptionPaused || got.EndDate != "2024-07-01" {
			t.Errorf("after update = %+v", got)
		}
		if _, err := store.GetActiveSubscription("cust-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("paused subscription should not be active, error = %v", err)
		}
	})

	t.Run("end before start is rejected", func(t *testing.T) {
		bad := testSubscription()
		bad.ID, bad.SubscriptionID = "sub-bad", "SUB-BAD"
		bad.EndDate = "2024-05-01"
		if err := store.AddSubscription(bad); err == nil {
			t.Error("AddSubscription() error = nil, want error for end before start")
		}
	})

	t.Run("list", func(t *testing.T) {
		subs, err := store.ListSubscriptions("cust-1")
		if err != nil {
			t.Fatalf("ListSubscriptions() error = %v", err)
		}
		if len(subs) != 1 || len(subs[0].Products) != 2 {
			t.Errorf("ListSubscriptions() = %+v", subs)
		}
	})
}

func TestDeliveries(t *testing.T) {
	store := setupTestStore(t)
	if err := store.AddSubscription(testSubscription()); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}

	err := store.AddDeliveries("sub-1", []models.Delivery{
		delivery("d-10", "2024-06-10"),
		delivery("d-11", "2024-06-11T00:00:00.000Z"),
		delivery("d-12", "2024-06-12"),
	})
	if err != nil {
		t.Fatalf("AddDeliveries() error = %v", err)
	}

	t.Run("dates are stored as keys", func(t *testing.T) {
		got, err := store.GetDelivery("sub-1", "2024-06-11")
		if err != nil {
			t.Fatalf("GetDelivery() error = %v", err)
		}
		if got.Date != "2024-06-11" || got.ID != "d-11" {
			t.Errorf("GetDelivery() = %+v", got)
		}
		if len(got.Products) != 1 || got.Products[0].Name != "Cow Milk" {
			t.Errorf("products = %+v", got.Products)
		}
	})

	t.Run("range", func(t *testing.T) {
		got, err := store.GetDeliveries("sub-1", "2024-06-11", "2024-06-30")
		if err != nil {
			t.Fatalf("GetDeliveries() error = %v", err)
		}
		if len(got) != 2 || got[0].Date != "2024-06-11" {
			t.Errorf("GetDeliveries() = %+v", got)
		}

		all, _ := store.GetDeliveries("sub-1", "", "")
		if len(all) != 3 {
			t.Errorf("open range returned %d deliveries, want 3", len(all))
		}

		none, err := store.GetDeliveries("sub-1", "2024-07-01", "2024-07-31")
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("empty range = %v, %v; want empty non-nil slice", none, err)
		}
	})

	t.Run("one delivery per date", func(t *testing.T) {
		err := store.AddDeliveries("sub-1", []models.Delivery{delivery("d-dup", "2024-06-10")})
		if !errors.Is(err, storage.ErrConflict) {
			t.Errorf("AddDeliveries(dup date) error = %v, want ErrConflict", err)
		}
	})

	t.Run("missing delivery", func(t *testing.T) {
		if _, err := store.GetDelivery("sub-1", "2024-06-25"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetDelivery() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("update slot", func(t *testing.T) {
		d, _ := store.GetDelivery("sub-1", "2024-06-12")
		d.Slot = models.SlotEvening
		if err := store.UpdateDelivery(d); err != nil {
			t.Fatalf("UpdateDelivery() error = %v", err)
		}
		got, _ := store.GetDelivery("sub-1", "2024-06-12")
		if got.Slot != models.SlotEvening {
			t.Errorf("Slot = %q, want evening", got.Slot)
		}
	})
}

func TestMoveDeliveries(t *testing.T) {
	store := setupTestStore(t)
	if err := store.AddSubscription(testSubscription()); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}
	if err := store.AddDeliveries("sub-1", []models.Delivery{
		delivery("d-10", "2024-06-10"),
		delivery("d-11", "2024-06-11"),
		delivery("d-20", "2024-06-20"),
	}); err != nil {
		t.Fatalf("AddDeliveries() error = %v", err)
	}

	t.Run("block shifts onto its own dates", func(t *testing.T) {
		err := store.MoveDeliveries("sub-1", []storage.Move{
			{From: "2024-06-10", To: "2024-06-11", Slot: models.SlotEvening},
			{From: "2024-06-11", To: "2024-06-12", Slot: models.SlotEvening},
		})
		if err != nil {
			t.Fatalf("MoveDeliveries() error = %v", err)
		}
		d, err := store.GetDelivery("sub-1", "2024-06-11")
		if err != nil || d.ID != "d-10" || d.Slot != models.SlotEvening {
			t.Errorf("2024-06-11 = %+v, %v; want d-10 in evening", d, err)
		}
		d, err = store.GetDelivery("sub-1", "2024-06-12")
		if err != nil || d.ID != "d-11" {
			t.Errorf("2024-06-12 = %+v, %v; want d-11", d, err)
		}
		if _, err := store.GetDelivery("sub-1", "2024-06-10"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("2024-06-10 should be empty, error = %v", err)
		}
	})

	t.Run("collision rolls back every move", func(t *testing.T) {
		err := store.MoveDeliveries("sub-1", []storage.Move{
			{From: "2024-06-11", To: "2024-06-15", Slot: models.SlotMorning},
			{From: "2024-06-12", To: "2024-06-20", Slot: models.SlotMorning},
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("MoveDeliveries() error = %v, want ErrConflict", err)
		}
		d, err := store.GetDelivery("sub-1", "2024-06-11")
		if err != nil || d.ID != "d-10" {
			t.Errorf("2024-06-11 = %+v, %v; want unchanged d-10", d, err)
		}
		if _, err := store.GetDelivery("sub-1", "2024-06-15"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("2024-06-15 should stay empty, error = %v", err)
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		err := store.MoveDeliveries("sub-1", []storage.Move{{From: "2024-06-01", To: "2024-06-02"}})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("MoveDeliveries() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMarkDelivered(t *testing.T) {
	store := setupTestStore(t)
	if err := store.AddSubscription(testSubscription()); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}
	d := delivery("d-10", "2024-06-10")
	d.Status = models.DeliveryAwaitingCustomer
	d.Products = append(d.Products, models.DeliveryProduct{ProductID: "p-ghee", Name: "Ghee", DeliveryStatus: models.DeliveryCanceled})
	if err := store.AddDeliveries("sub-1", []models.Delivery{d}); err != nil {
		t.Fatalf("AddDeliveries() error = %v", err)
	}

	if err := store.MarkDelivered("sub-1", "2024-06-10"); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	got, _ := store.GetDelivery("sub-1", "2024-06-10")
	if got.Status != models.DeliveryDelivered {
		t.Errorf("Status = %q, want delivered", got.Status)
	}

	sub, _ := store.GetSubscription("sub-1")
	milk, _ := sub.Product("p-milk")
	ghee, _ := sub.Product("p-ghee")
	if milk.DeliveredCount != 1 {
		t.Errorf("milk DeliveredCount = %d, want 1", milk.DeliveredCount)
	}
	if ghee.DeliveredCount != 0 {
		t.Errorf("cancelled ghee DeliveredCount = %d, want 0", ghee.DeliveredCount)
	}

	if err := store.MarkDelivered("sub-1", "2024-06-11"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("MarkDelivered(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCompensate(t *testing.T) {
	store := setupTestStore(t)
	if err := store.AddSubscription(testSubscription()); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}
	missed := delivery("d-10", "2024-06-10")
	missed.Status = models.DeliveryNoResponse
	if err := store.AddDeliveries("sub-1", []models.Delivery{missed}); err != nil {
		t.Fatalf("AddDeliveries() error = %v", err)
	}

	err := store.Compensate(storage.Compensation{
		SubscriptionID: "sub-1",
		Date:           "2024-06-10",
		NewEndDate:     "2024-07-01",
		Replacement:    delivery("d-r", "2024-07-01"),
	})
	if err != nil {
		t.Fatalf("Compensate() error = %v", err)
	}

	got, _ := store.GetDelivery("sub-1", "2024-06-10")
	if got.Status != models.DeliveryConcession || !got.Concession {
		t.Errorf("original = %+v, want concession", got)
	}
	if got.ConcessionDetails == nil || got.ConcessionDetails.RescheduledTo != "2024-07-01" || !got.ConcessionDetails.ExtendedSubscription {
		t.Errorf("ConcessionDetails = %+v", got.ConcessionDetails)
	}
	if _, err := store.GetDelivery("sub-1", "2024-07-01"); err != nil {
		t.Errorf("replacement missing: %v", err)
	}
	sub, _ := store.GetSubscription("sub-1")
	if sub.EndDate != "2024-07-01" {
		t.Errorf("EndDate = %q, want 2024-07-01", sub.EndDate)
	}

	t.Run("replacement collision rolls back", func(t *testing.T) {
		other := delivery("d-11", "2024-06-11")
		other.Status = models.DeliveryNoResponse
		if err := store.AddDeliveries("sub-1", []models.Delivery{other}); err != nil {
			t.Fatalf("AddDeliveries() error = %v", err)
		}
		err := store.Compensate(storage.Compensation{
			SubscriptionID: "sub-1",
			Date:           "2024-06-11",
			NewEndDate:     "2024-07-02",
			Replacement:    delivery("d-r2", "2024-07-01"),
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("Compensate() error = %v, want ErrConflict", err)
		}
		got, _ := store.GetDelivery("sub-1", "2024-06-11")
		if got.Status != models.DeliveryNoResponse {
			t.Errorf("Status = %q, want unchanged noResponse", got.Status)
		}
		sub, _ := store.GetSubscription("sub-1")
		if sub.EndDate != "2024-07-01" {
			t.Errorf("EndDate = %q, want unchanged 2024-07-01", sub.EndDate)
		}
	})
}

func TestChangeStatus(t *testing.T) {
	store := setupTestStore(t)
	if err := store.AddSubscription(testSubscription()); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}
	if err := store.AddDeliveries("sub-1", []models.Delivery{
		delivery("d-11", "2024-06-11"),
		delivery("d-12", "2024-06-12"),
	}); err != nil {
		t.Fatalf("AddDeliveries() error = %v", err)
	}

	err := store.ChangeStatus(storage.StatusChange{
		SubscriptionID: "sub-1",
		Status:         models.SubscriptionPaused,
		Deliveries: map[string]models.DeliveryStatus{
			"2024-06-11": models.DeliveryPaused,
			"2024-06-12": models.DeliveryPaused,
		},
	})
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	sub, _ := store.GetSubscription("sub-1")
	if sub.Status != models.SubscriptionPaused {
		t.Errorf("Status = %q, want paused", sub.Status)
	}
	for _, date := range []string{"2024-06-11", "2024-06-12"} {
		got, _ := store.GetDelivery("sub-1", date)
		if got.Status != models.DeliveryPaused {
			t.Errorf("delivery on %s = %q, want paused", date, got.Status)
		}
	}

	t.Run("missing delivery rolls back", func(t *testing.T) {
		err := store.ChangeStatus(storage.StatusChange{
			SubscriptionID: "sub-1",
			Status:         models.SubscriptionActive,
			Deliveries: map[string]models.DeliveryStatus{
				"2024-06-11": models.DeliveryScheduled,
				"2024-06-20": models.DeliveryScheduled,
			},
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("ChangeStatus() error = %v, want ErrNotFound", err)
		}
		sub, _ := store.GetSubscription("sub-1")
		if sub.Status != models.SubscriptionPaused {
			t.Errorf("Status = %q, want unchanged paused", sub.Status)
		}
		got, _ := store.GetDelivery("sub-1", "2024-06-11")
		if got.Status != models.DeliveryPaused {
			t.Errorf("delivery = %q, want unchanged paused", got.Status)
		}
	})
}
