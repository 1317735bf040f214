package system

import (
	"context"
	"path/filepath"
	"testing"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/service"
	"github.com/julianstephens/milkrun/internal/storage/sqlite"
	"github.com/julianstephens/milkrun/internal/utils"
)

func setupTestDoctorDB(t *testing.T) (*cli.Context, *service.Local, func()) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store := sqlite.NewStore(dbPath)
	if err := store.Init(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	local := service.New(store)
	ctx := cli.NewContext(context.Background(), store, local, "cust-1", nil)

	cleanup := func() {
		store.Close()
	}

	return ctx, local, cleanup
}

func TestDoctorCmd_HealthyDB(t *testing.T) {
	gokeyring.MockInit()
	ctx, _, cleanup := setupTestDoctorDB(t)
	defer cleanup()

	cmd := &DoctorCmd{}
	if err := cmd.Run(ctx); err != nil {
		t.Errorf("doctor command failed on healthy database: %v", err)
	}
}

func TestDoctorCmd_WithSubscription(t *testing.T) {
	gokeyring.MockInit()
	ctx, local, cleanup := setupTestDoctorDB(t)
	defer cleanup()

	today := ctx.Clock.Today()
	_, err := local.CreateSubscription(client.WithCustomer(context.Background(), "cust-1"), service.NewSubscription{
		StartDate: today,
		EndDate:   mustAddDays(t, today, 13),
		Slot:      models.SlotMorning,
		Products: []models.SubscriptionProduct{
			{ProductID: "p-milk", Name: "Cow Milk", QuantityValue: 1, QuantityUnit: "L", DeliveryFrequency: models.FrequencyDaily, MaxDeliveries: 14},
		},
	})
	if err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	cmd := &DoctorCmd{Verbose: true}
	if err := cmd.Run(ctx); err != nil {
		t.Errorf("doctor command failed with a valid subscription: %v", err)
	}
}

func TestDoctorCmd_InvalidSettings(t *testing.T) {
	gokeyring.MockInit()
	ctx, _, cleanup := setupTestDoctorDB(t)
	defer cleanup()

	settings, err := ctx.Store.GetSettings()
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	settings.RescheduleHorizonDays = -3
	if err := ctx.Store.SaveSettings(settings); err != nil {
		t.Fatalf("failed to save settings: %v", err)
	}

	if err := (&DoctorCmd{}).Run(ctx); err == nil {
		t.Error("doctor should fail on a negative reschedule horizon")
	}
}

func TestDoctorCmd_UninitializedDB(t *testing.T) {
	gokeyring.MockInit()
	store := sqlite.NewStore(filepath.Join(t.TempDir(), "missing.db"))
	ctx := cli.NewContext(context.Background(), store, service.New(store), "", nil)

	if err := (&DoctorCmd{}).Run(ctx); err == nil {
		t.Error("doctor should fail when the database does not exist")
	}
}

func mustAddDays(t *testing.T, date string, n int) string {
	t.Helper()
	out, err := utils.AddDays(date, n)
	if err != nil {
		t.Fatalf("AddDays(%s, %d): %v", date, n, err)
	}
	return out
}
