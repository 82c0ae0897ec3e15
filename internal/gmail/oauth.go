package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/Veraticus/mail-alfred/internal/common"
)

// Scopes are the Gmail permissions the classifier needs: read messages and
// add labels.
var Scopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailModifyScope,
}

// authTimeout bounds how long the interactive flow waits for the browser.
const authTimeout = 5 * time.Minute

// LoadOAuthConfig reads the client secrets file downloaded from the Google
// Cloud Console.
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.NewUserError(
				fmt.Sprintf("OAuth credentials not found at %s; download them from Google Cloud Console, APIs & Services, Credentials", credentialsPath),
				common.ErrMissingConfig)
		}
		return nil, fmt.Errorf("failed to read OAuth credentials: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OAuth credentials: %w: %w", common.ErrInvalidConfig, err)
	}
	return oauthConfig, nil
}

// AuthenticateInteractive runs the installed-app flow: it starts a loopback
// callback server, logs the consent URL and exchanges the returned code.
func AuthenticateInteractive(ctx context.Context, oauthConfig *oauth2.Config, cfg Config) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.CallbackPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	flowConfig := *oauthConfig
	flowConfig.RedirectURL = fmt.Sprintf("http://%s/callback", listener.Addr().String())
	state := uuid.NewString()

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			select {
			case errorChan <- fmt.Errorf("no authorization code received"):
			default:
			}
			_, _ = fmt.Fprint(w, `<html><body>
				<h1>Authentication Failed</h1>
				<p>No authorization code received. Please try again.</p>
			</body></html>`)
			return
		}

		select {
		case codeChan <- code:
		default:
		}
		_, _ = fmt.Fprint(w, `<html><body>
			<h1>Authentication Successful!</h1>
			<p>You can close this window and return to the terminal.</p>
			<script>window.setTimeout(function(){window.close();}, 3000);</script>
		</body></html>`)
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errorChan <- fmt.Errorf("callback server failed: %w", err):
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := flowConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	slog.Info("gmail authentication required")
	slog.Info("please visit this URL to authenticate", "url", authURL)
	slog.Info("waiting for authentication...")

	var authCode string
	select {
	case authCode = <-codeChan:
		slog.Info("received authorization code")
	case err := <-errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(authTimeout):
		return nil, fmt.Errorf("authentication timeout - no response received within %s", authTimeout)
	}

	token, err := flowConfig.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if cfg.TokenPath != "" {
		if err := saveToken(cfg.TokenPath, token); err != nil {
			return nil, err
		}
		slog.Info("token saved", "file", cfg.TokenPath)
	}

	return token, nil
}

// LoadToken loads a token from file.
func LoadToken(tokenFile string) (*oauth2.Token, error) {
	f, err := os.Open(tokenFile) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("failed to decode token %s: %w", tokenFile, err)
	}
	return token, nil
}

// saveToken saves a token to file.
func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}

// GetOrCreateToken loads the stored token, or runs the interactive flow when
// there is none (or it can no longer be refreshed).
func GetOrCreateToken(ctx context.Context, oauthConfig *oauth2.Config, cfg Config) (*oauth2.Token, error) {
	if cfg.TokenPath != "" {
		token, err := LoadToken(cfg.TokenPath)
		if err == nil {
			if token.Valid() || token.RefreshToken != "" {
				slog.Debug("loaded existing token", "file", cfg.TokenPath)
				return token, nil
			}
		}
		slog.Info("no usable token found, starting OAuth2 flow")
	}
	return AuthenticateInteractive(ctx, oauthConfig, cfg)
}

// TokenSource returns a token source that refreshes token as needed and
// writes every refreshed token back to path.
func TokenSource(ctx context.Context, oauthConfig *oauth2.Config, token *oauth2.Token, path string) oauth2.TokenSource {
	return &persistingTokenSource{
		base:        oauthConfig.TokenSource(ctx, token),
		path:        path,
		accessToken: token.AccessToken,
	}
}

type persistingTokenSource struct {
	base        oauth2.TokenSource
	path        string
	accessToken string
	mu          sync.Mutex
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w: %w", common.ErrPermissionDenied, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path != "" && token.AccessToken != p.accessToken {
		if err := saveToken(p.path, token); err != nil {
			slog.Warn("failed to save refreshed token", "error", err)
		}
		p.accessToken = token.AccessToken
	}
	return token, nil
}
