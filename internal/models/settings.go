package models

import (
	"fmt"

	"github.com/julianstephens/milkrun/internal/constants"
)

// Settings represents service-wide settings
type Settings struct {
	Timezone              string `json:"timezone"`                // IANA timezone name, or "Local" for system timezone
	RescheduleHorizonDays int    `json:"reschedule_horizon_days"` // how far past the end date a moved delivery may land
	DefaultSlot           Slot   `json:"default_slot"`            // slot used when a request omits one
}

// DefaultSettings returns the settings written on first initialization.
func DefaultSettings() Settings {
	return Settings{
		Timezone:              constants.DefaultTimezone,
		RescheduleHorizonDays: constants.DefaultRescheduleHorizonDays,
		DefaultSlot:           Slot(constants.DefaultSlot),
	}
}

// MapToSettings converts a map of key-value pairs to a Settings struct.
// Missing keys keep their default values.
func MapToSettings(data map[string]string) (Settings, error) {
	settings := DefaultSettings()

	for key, value := range data {
		switch key {
		case constants.SettingTimezone:
			settings.Timezone = value
		case constants.SettingRescheduleHorizonDays:
			if _, err := fmt.Sscanf(value, "%d", &settings.RescheduleHorizonDays); err != nil {
				return Settings{}, fmt.Errorf("parsing %s: %w", constants.SettingRescheduleHorizonDays, err)
			}
		case constants.SettingDefaultSlot:
			slot := Slot(value)
			if !slot.Valid() {
				return Settings{}, fmt.Errorf("parsing %s: invalid slot %q", constants.SettingDefaultSlot, value)
			}
			settings.DefaultSlot = slot
		}
	}
	return settings, nil
}

// SettingsToMap converts a Settings struct to a map of key-value pairs.
func SettingsToMap(settings Settings) map[string]string {
	return map[string]string{
		constants.SettingTimezone:              settings.Timezone,
		constants.SettingRescheduleHorizonDays: fmt.Sprintf("%d", settings.RescheduleHorizonDays),
		constants.SettingDefaultSlot:           string(settings.DefaultSlot),
	}
}
