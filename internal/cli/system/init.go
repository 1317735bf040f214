package system

import (
	"fmt"
	"os"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/utils"
)

type InitCmd struct {
	Force    bool   `help:"Force reset by deleting the existing SQLite database before initialization."`
	Timezone string `help:"Timezone used to decide what 'today' is (IANA name or Local)."`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	if ctx.Store == nil {
		return cli.ErrRemote
	}

	if c.Timezone != "" && !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("invalid timezone %q", c.Timezone)
	}

	if c.Force {
		dbPath := ctx.Store.GetConfigPath()
		if _, err := os.Stat(dbPath); err == nil {
			// Close first so the file is not held open while deleting
			if err := ctx.Store.Close(); err != nil {
				return fmt.Errorf("failed to close existing database: %w", err)
			}
			if err := os.Remove(dbPath); err != nil {
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			fmt.Printf("Deleted existing database at: %s\n", dbPath)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to access existing database: %w", err)
		}
	}

	if err := ctx.Store.Init(); err != nil {
		return err
	}

	if c.Timezone != "" {
		settings, err := ctx.Store.GetSettings()
		if err != nil {
			return fmt.Errorf("failed to get settings: %w", err)
		}
		settings.Timezone = c.Timezone
		if err := ctx.Store.SaveSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	}

	fmt.Printf("Initialized milkrun storage at: %s\n", ctx.Store.GetConfigPath())
	return nil
}
