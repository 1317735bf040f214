package constants

const (
	SettingTimezone              = "timezone"
	SettingRescheduleHorizonDays = "reschedule_horizon_days"
	SettingDefaultSlot           = "default_slot"

	DefaultTimezone              = "Local" // Use system local timezone by default
	DefaultRescheduleHorizonDays = 30
	DefaultSlot                  = "morning"

	// MaxConsecutiveDays bounds bulk reschedule block length
	MaxConsecutiveDays = 31
)
