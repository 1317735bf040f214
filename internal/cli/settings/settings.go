package settings

import (
	"fmt"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

type SettingsCmd struct {
	List bool `help:"List current settings."`

	Timezone    *string `help:"IANA timezone used to decide what today is, or Local."`
	Horizon     *int    `help:"Days past the subscription end a moved delivery may land."`
	DefaultSlot *string `help:"Slot used when a request omits one (morning or evening)." enum:"morning,evening"`
}

func (c *SettingsCmd) Run(ctx *cli.Context) error {
	if ctx.Store == nil {
		return cli.ErrRemote
	}
	settings, err := ctx.Store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	if c.List {
		fmt.Println("Current Settings:")
		fmt.Printf("  Timezone:              %s\n", settings.Timezone)
		fmt.Printf("  Reschedule Horizon:    %d days\n", settings.RescheduleHorizonDays)
		fmt.Printf("  Default Slot:          %s\n", settings.DefaultSlot)
		return nil
	}

	updated := false
	if c.Timezone != nil {
		if !utils.ValidateTimezone(*c.Timezone) {
			return fmt.Errorf("invalid timezone %q", *c.Timezone)
		}
		settings.Timezone = *c.Timezone
		updated = true
	}
	if c.Horizon != nil {
		if *c.Horizon < 0 {
			return fmt.Errorf("horizon must be zero or more days")
		}
		settings.RescheduleHorizonDays = *c.Horizon
		updated = true
	}
	if c.DefaultSlot != nil {
		slot := models.Slot(*c.DefaultSlot)
		if !slot.Valid() {
			return fmt.Errorf("invalid slot %q (expected morning or evening)", *c.DefaultSlot)
		}
		settings.DefaultSlot = slot
		updated = true
	}

	if updated {
		if err := ctx.Store.SaveSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Println("Settings updated successfully.")
	} else {
		fmt.Println("No changes specified. Use --list to view settings or flags to update them.")
	}

	return nil
}
