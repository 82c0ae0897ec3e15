package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/credential"
	"github.com/Veraticus/mail-alfred/internal/gmail"
	"github.com/Veraticus/mail-alfred/internal/imap"
)

// Source kinds.
const (
	SourceGmail = "gmail"
	SourceIMAP  = "imap"
	SourceDemo  = "demo"
)

// SourceKind returns the configured message source, defaulting to gmail.
func SourceKind() (string, error) {
	kind := strings.ToLower(strings.TrimSpace(viper.GetString("source.kind")))
	switch kind {
	case "":
		return SourceGmail, nil
	case SourceGmail, SourceIMAP, SourceDemo:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown source %q (want gmail, imap or demo)", common.ErrInvalidConfig, kind)
	}
}

// LoadGmailConfig reads the gmail.* keys on top of gmail.DefaultConfig.
func LoadGmailConfig() gmail.Config {
	cfg := gmail.DefaultConfig()

	if v := viper.GetString("gmail.credentials_path"); v != "" {
		cfg.CredentialsPath = v
	} else if v := os.Getenv("GMAIL_CREDENTIALS_PATH"); v != "" {
		cfg.CredentialsPath = v
	}
	if v := viper.GetString("gmail.token_path"); v != "" {
		cfg.TokenPath = v
	} else if v := os.Getenv("GMAIL_TOKEN_PATH"); v != "" {
		cfg.TokenPath = v
	}
	cfg.CredentialsPath = ExpandPath(cfg.CredentialsPath)
	cfg.TokenPath = ExpandPath(cfg.TokenPath)

	if v := viper.GetString("gmail.user"); v != "" {
		cfg.User = v
	}
	if v := viper.GetStringSlice("gmail.label_ids"); len(v) > 0 {
		cfg.LabelIDs = v
	}
	cfg.Query = viper.GetString("gmail.query")
	cfg.CallbackPort = viper.GetInt("gmail.callback_port")
	return cfg
}

// LoadIMAPConfig reads the imap.* keys. The password may also come from
// IMAP_PASSWORD or the keyring.
func LoadIMAPConfig(secrets SecretStore) (imap.Options, error) {
	opts := imap.Options{
		Host:               viper.GetString("imap.host"),
		Port:               viper.GetInt("imap.port"),
		Username:           viper.GetString("imap.username"),
		Mailbox:            viper.GetString("imap.mailbox"),
		Security:           strings.ToLower(viper.GetString("imap.security")),
		BatchSize:          viper.GetInt("imap.batch_size"),
		InsecureSkipVerify: viper.GetBool("imap.insecure_skip_verify"),
	}
	if opts.Host == "" {
		opts.Host = os.Getenv("IMAP_HOST")
	}
	if opts.Username == "" {
		opts.Username = os.Getenv("IMAP_USERNAME")
	}

	switch opts.Security {
	case "", imap.SecurityTLS, imap.SecurityStartTLS, imap.SecurityInsecure:
	default:
		return opts, fmt.Errorf("%w: imap.security must be tls, starttls or insecure, got %q", common.ErrInvalidConfig, opts.Security)
	}

	if opts.Host == "" || opts.Username == "" {
		return opts, common.NewUserError("imap.host and imap.username must be set to use the IMAP source", common.ErrMissingConfig)
	}

	opts.Password = lookupSecret("imap.password", []string{"IMAP_PASSWORD"}, secrets, credential.KeyIMAPPassword)
	if opts.Password == "" {
		return opts, common.NewUserError(
			"no IMAP password; set IMAP_PASSWORD or run 'alfred auth set-secret imap_password'",
			common.ErrMissingConfig)
	}
	return opts, nil
}
