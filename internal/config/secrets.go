package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/mail-alfred/internal/common"
)

// SecretStore is the read side of credential.Store.
type SecretStore interface {
	Get(key string) (string, error)
}

// lookupSecret resolves a secret in order: the viper key, each environment
// variable, then the keyring entry. A missing keyring entry is not an error.
func lookupSecret(viperKey string, envVars []string, store SecretStore, storeKey string) string {
	if v := strings.TrimSpace(viper.GetString(viperKey)); v != "" {
		return v
	}
	for _, name := range envVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	if store == nil || storeKey == "" {
		return ""
	}

	v, err := store.Get(storeKey)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			slog.Debug("keyring lookup failed", "key", storeKey, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(v)
}
