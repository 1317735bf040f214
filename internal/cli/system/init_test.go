package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/client/clienttest"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/service"
	"github.com/julianstephens/milkrun/internal/storage/sqlite"
)

func setupTestInitDB(t *testing.T) (*cli.Context, string, func()) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store := sqlite.NewStore(dbPath)
	ctx := cli.NewContext(context.Background(), store, service.New(store), "", nil)

	cleanup := func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	}

	return ctx, dbPath, cleanup
}

func TestInitCmd_Success(t *testing.T) {
	ctx, dbPath, cleanup := setupTestInitDB(t)
	defer cleanup()

	cmd := &InitCmd{}
	err := cmd.Run(ctx)

	if err != nil {
		t.Errorf("init command failed: %v", err)
	}

	// Verify database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}
}

func TestInitCmd_Idempotent(t *testing.T) {
	ctx, _, cleanup := setupTestInitDB(t)
	defer cleanup()

	cmd := &InitCmd{}

	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := cmd.Run(ctx); err != nil {
		t.Errorf("second init failed (should be idempotent): %v", err)
	}
}

func TestInitCmd_Timezone(t *testing.T) {
	ctx, _, cleanup := setupTestInitDB(t)
	defer cleanup()

	if err := (&InitCmd{Timezone: "Asia/Kolkata"}).Run(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	settings, err := ctx.Store.GetSettings()
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if settings.Timezone != "Asia/Kolkata" {
		t.Errorf("expected timezone Asia/Kolkata, got %q", settings.Timezone)
	}

	if err := (&InitCmd{Timezone: "Nowhere/Special"}).Run(ctx); err == nil {
		t.Error("expected an error for an unknown timezone")
	}
}

func TestInitCmd_ForceDeletesExisting(t *testing.T) {
	ctx, dbPath, cleanup := setupTestInitDB(t)
	defer cleanup()

	if err := (&InitCmd{}).Run(ctx); err != nil {
		t.Fatalf("initial init failed: %v", err)
	}

	// Mark the database as used
	settings, err := ctx.Store.GetSettings()
	if err != nil {
		t.Fatalf("failed to get initial settings: %v", err)
	}
	settings.RescheduleHorizonDays = 5
	if err := ctx.Store.SaveSettings(settings); err != nil {
		t.Fatalf("failed to save modified settings: %v", err)
	}

	if err := (&InitCmd{Force: true}).Run(ctx); err != nil {
		t.Fatalf("init with force failed: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatalf("database file was not recreated after force")
	}

	newSettings, err := ctx.Store.GetSettings()
	if err != nil {
		t.Fatalf("failed to get settings after force: %v", err)
	}
	if newSettings.RescheduleHorizonDays != constants.DefaultRescheduleHorizonDays {
		t.Errorf("expected default horizon %d, got %d", constants.DefaultRescheduleHorizonDays, newSettings.RescheduleHorizonDays)
	}
}

func TestInitCmd_ForceWithNonExistentDatabase(t *testing.T) {
	ctx, dbPath, cleanup := setupTestInitDB(t)
	defer cleanup()

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatalf("database file should not exist initially")
	}

	if err := (&InitCmd{Force: true}).Run(ctx); err != nil {
		t.Fatalf("init with force on non-existent database failed: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created")
	}
}

func TestInitCmd_RemoteMode(t *testing.T) {
	ctx := cli.NewContext(context.Background(), nil, &clienttest.Fake{}, "", nil)

	if err := (&InitCmd{}).Run(ctx); err != cli.ErrRemote {
		t.Errorf("expected ErrRemote, got %v", err)
	}
}
