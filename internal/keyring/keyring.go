// Package keyring keeps the PostgreSQL connection string out of config files
// by storing it in the OS keyring.
package keyring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/julianstephens/milkrun/internal/constants"
)

// ConnectionEnv overrides the keyring when set.
const ConnectionEnv = "MILKRUN_DB_CONNECTION"

var (
	ErrNotFound           = errors.New("credentials not found in keyring")
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

func get(user string) (string, error) {
	v, err := keyring.Get(constants.AppName, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return v, nil
}

// GetConnectionString returns the stored database connection string, or
// ErrNotFound.
func GetConnectionString() (string, error) {
	return get(constants.DefaultKeyringUser)
}

// SetConnectionString stores the database connection string.
func SetConnectionString(connStr string) error {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return errors.New("connection string cannot be empty")
	}
	if err := keyring.Set(constants.AppName, constants.DefaultKeyringUser, connStr); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}
	return nil
}

// DeleteConnectionString removes the stored connection string.
func DeleteConnectionString() error {
	err := keyring.Delete(constants.AppName, constants.DefaultKeyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}

// ResolveConnectionString picks the database connection string: the
// MILKRUN_DB_CONNECTION environment variable wins, then the keyring. It
// returns "" and no error when neither is configured, meaning the SQLite file
// should be used.
func ResolveConnectionString() (string, error) {
	if v := strings.TrimSpace(os.Getenv(ConnectionEnv)); v != "" {
		return v, nil
	}
	v, err := GetConnectionString()
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrKeyringUnavailable) {
		return "", nil
	}
	return v, err
}

// IsAvailable is a best-effort probe of the OS keyring.
func IsAvailable() bool {
	_, err := keyring.Get(constants.AppName, "availability-probe")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
