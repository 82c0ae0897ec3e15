// Package gmail reads a Gmail mailbox and writes classification labels back
// through the Gmail API.
package gmail

// MaxResultsPerPage is the page size used when listing messages.
const MaxResultsPerPage = 100

// Config holds Gmail connection settings.
type Config struct {
	CredentialsPath string // OAuth client secrets downloaded from the Cloud Console
	TokenPath       string // where the authorized user token is stored
	User            string
	Query           string
	LabelIDs        []string
	PageSize        int64
	CallbackPort    int // zero picks a free port for the OAuth callback
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		CredentialsPath: "credentials.json",
		TokenPath:       "token.json",
		User:            "me",
		LabelIDs:        []string{"INBOX"},
		PageSize:        MaxResultsPerPage,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.User == "" {
		c.User = def.User
	}
	if len(c.LabelIDs) == 0 {
		c.LabelIDs = def.LabelIDs
	}
	if c.PageSize <= 0 || c.PageSize > 500 {
		c.PageSize = def.PageSize
	}
	return c
}
