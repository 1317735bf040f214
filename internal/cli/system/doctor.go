package system

import (
	"fmt"
	"time"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/keyring"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/storage"
	"github.com/julianstephens/milkrun/internal/utils"
	"github.com/julianstephens/milkrun/internal/validation"
)

type DoctorCmd struct {
	Verbose bool `help:"Print every conflict found by data validation."`
}

type check struct {
	name string
	// needsDB checks are skipped when the database cannot be reached
	needsDB bool
	warning bool
	run     func(*cli.Context) error
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	if ctx.Store == nil {
		return cli.ErrRemote
	}

	fmt.Println("Running diagnostics...")
	fmt.Println()

	checks := []check{
		{name: "Schema version", needsDB: true, run: checkSchemaVersion},
		{name: "Migrations complete", needsDB: true, run: checkMigrationsComplete},
		{name: "Settings", needsDB: true, run: checkSettings},
		{name: "Data validation", needsDB: true, run: cmd.checkValidation},
		{name: "Clock/timezone", run: checkClock},
		{name: "OS keyring", warning: true, run: checkKeyring},
	}

	hasError := false
	dbReachable := true
	if err := checkDBReachable(ctx); err != nil {
		fmt.Printf("❌ Database reachable: FAIL\n")
		fmt.Printf("   Error: %v\n", err)
		hasError = true
		dbReachable = false
	} else {
		fmt.Printf("✓ Database reachable: OK\n")
	}

	for _, c := range checks {
		if c.needsDB && !dbReachable {
			fmt.Printf("⊘ %s: SKIPPED (database not reachable)\n", c.name)
			continue
		}
		err := c.run(ctx)
		switch {
		case err == nil:
			fmt.Printf("✓ %s: OK\n", c.name)
		case c.warning:
			fmt.Printf("⚠ %s: WARNING\n", c.name)
			fmt.Printf("   %v\n", err)
		default:
			fmt.Printf("❌ %s: FAIL\n", c.name)
			fmt.Printf("   Error: %v\n", err)
			hasError = true
		}
	}

	fmt.Println()
	if hasError {
		fmt.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}
	fmt.Println("All diagnostics passed!")
	return nil
}

func checkDBReachable(ctx *cli.Context) error {
	if err := ctx.Store.Load(); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	return nil
}

func schemaVersions(ctx *cli.Context) (int, int, error) {
	migrator, ok := ctx.Store.(storage.Migrator)
	if !ok {
		return 0, 0, nil
	}
	current, latest, err := migrator.SchemaVersions()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return current, latest, nil
}

func checkSchemaVersion(ctx *cli.Context) error {
	current, latest, err := schemaVersions(ctx)
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	return nil
}

func checkMigrationsComplete(ctx *cli.Context) error {
	current, latest, err := schemaVersions(ctx)
	if err != nil {
		return err
	}
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d. Run 'milkrun migrate'", current, latest)
	}
	return nil
}

func checkSettings(ctx *cli.Context) error {
	settings, err := ctx.Store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	if !utils.ValidateTimezone(settings.Timezone) {
		return fmt.Errorf("invalid timezone %q", settings.Timezone)
	}
	if settings.RescheduleHorizonDays < 0 {
		return fmt.Errorf("reschedule horizon cannot be negative (%d)", settings.RescheduleHorizonDays)
	}
	if !settings.DefaultSlot.Valid() {
		return fmt.Errorf("invalid default slot %q", settings.DefaultSlot)
	}
	return nil
}

func (cmd *DoctorCmd) checkValidation(ctx *cli.Context) error {
	if ctx.Customer == "" {
		return nil
	}
	subs, err := ctx.Store.ListSubscriptions(ctx.Customer)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	validator := validation.New()
	result := validator.ValidateSubscriptions(subs)
	for _, sub := range subs {
		deliveries, err := ctx.Store.GetDeliveries(sub.ID, "", "")
		if err != nil {
			return fmt.Errorf("failed to get deliveries for %s: %w", sub.SubscriptionID, err)
		}
		r := validator.ValidateSubscription(sub, deliveries)
		result.Conflicts = append(result.Conflicts, r.Conflicts...)
	}

	if result.HasConflicts() {
		if cmd.Verbose {
			fmt.Println(result.FormatReport())
		}
		return fmt.Errorf("%d conflict(s) found", len(result.Conflicts))
	}
	return nil
}

func checkClock(ctx *cli.Context) error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	timezone := models.DefaultSettings().Timezone
	if ctx.Store != nil {
		if settings, err := ctx.Store.GetSettings(); err == nil {
			timezone = settings.Timezone
		}
	}
	if _, err := utils.GetTodayInTimezone(timezone); err != nil {
		return err
	}
	return nil
}

func checkKeyring(*cli.Context) error {
	if !keyring.IsAvailable() {
		return fmt.Errorf("OS keyring is not available; set %s to use PostgreSQL", keyring.ConnectionEnv)
	}
	return nil
}
