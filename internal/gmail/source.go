package gmail

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// Source is a service.MessageSource and service.BodyLoader backed by the
// Gmail API. Scan fetches metadata only; LoadBody fetches the full message.
type Source struct {
	service  *gmailapi.Service
	logger   *slog.Logger
	idByName map[string]string
	nameByID map[string]string
	scope    string
	cfg      Config
	labelsMu sync.RWMutex
	createMu sync.Mutex
}

// NewSource authenticates with Gmail and returns a source for the configured
// mailbox. A missing token starts the interactive OAuth flow.
func NewSource(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	cfg = cfg.withDefaults()

	oauthConfig, err := LoadOAuthConfig(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	token, err := GetOrCreateToken(ctx, oauthConfig, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain gmail token: %w", err)
	}

	httpClient := oauth2.NewClient(ctx, TokenSource(ctx, oauthConfig, token, cfg.TokenPath))
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %w", err)
	}

	return NewSourceWithService(ctx, svc, cfg, logger)
}

// NewSourceWithService wraps an existing API client. It resolves the
// account address to build the source scope.
func NewSourceWithService(ctx context.Context, svc *gmailapi.Service, cfg Config, logger *slog.Logger) (*Source, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	profile, err := svc.Users.GetProfile(cfg.User).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("failed to read gmail profile", err)
	}

	scope := fmt.Sprintf("gmail:%s/%s", profile.EmailAddress, strings.Join(cfg.LabelIDs, ","))
	if cfg.Query != "" {
		scope += "?" + cfg.Query
	}

	return &Source{
		service:  svc,
		logger:   logger.With("source", "gmail"),
		cfg:      cfg,
		scope:    scope,
		idByName: make(map[string]string),
		nameByID: make(map[string]string),
	}, nil
}

// Scope identifies the account, label filter and query.
func (s *Source) Scope() string {
	return s.scope
}

// Scan lists messages newest first, one page at a time, and yields each
// message's metadata. The label cache is refreshed at the start of every
// scan so labels created elsewhere are recognized.
func (s *Source) Scan(ctx context.Context, limit int) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		if err := s.refreshLabels(ctx); err != nil {
			yield(model.Message{}, fmt.Errorf("%w: %w", common.ErrSourceUnavailable, err))
			return
		}

		yielded := 0
		pageToken := ""
		for {
			call := s.service.Users.Messages.List(s.cfg.User).
				LabelIds(s.cfg.LabelIDs...).
				MaxResults(s.cfg.PageSize).
				Context(ctx)
			if s.cfg.Query != "" {
				call = call.Q(s.cfg.Query)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			resp, err := call.Do()
			if err != nil {
				err = wrapAPIError("failed to list messages", err)
				yield(model.Message{}, fmt.Errorf("%w: %w", common.ErrSourceUnavailable, err))
				return
			}

			for _, ref := range resp.Messages {
				msg, err := s.fetch(ctx, ref.Id, "metadata")
				if err != nil {
					if !yield(model.Message{ID: ref.Id}, err) {
						return
					}
					continue
				}
				if !yield(msg, nil) {
					return
				}
				yielded++
				if limit > 0 && yielded >= limit {
					return
				}
			}

			if resp.NextPageToken == "" {
				return
			}
			pageToken = resp.NextPageToken
		}
	}
}

// LoadBody fetches the full message.
func (s *Source) LoadBody(ctx context.Context, msg model.Message) (model.Message, error) {
	full, err := s.fetch(ctx, msg.ID, "full")
	if err != nil {
		return msg, err
	}
	return full, nil
}

// ApplyLabel adds the named label to a message, creating the label on first
// use. Gmail ignores additions of a label the message already carries.
func (s *Source) ApplyLabel(ctx context.Context, messageID string, label model.Label) error {
	labelID, err := s.getOrCreateLabel(ctx, string(label))
	if err != nil {
		return err
	}

	_, err = s.service.Users.Messages.Modify(s.cfg.User, messageID, &gmailapi.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return wrapAPIError(fmt.Sprintf("failed to label message %s", messageID), err)
	}

	s.logger.Debug("label applied", "message_id", messageID, "label", label)
	return nil
}

// Labels returns the cached label names, refreshing them first.
func (s *Source) Labels(ctx context.Context) ([]string, error) {
	if err := s.refreshLabels(ctx); err != nil {
		return nil, err
	}
	s.labelsMu.RLock()
	defer s.labelsMu.RUnlock()
	names := make([]string, 0, len(s.idByName))
	for name := range s.idByName {
		names = append(names, name)
	}
	return names, nil
}

func (s *Source) fetch(ctx context.Context, id, format string) (model.Message, error) {
	call := s.service.Users.Messages.Get(s.cfg.User, id).Format(format).Context(ctx)
	if format == "metadata" {
		call = call.MetadataHeaders(metadataHeaders...)
	}
	msg, err := call.Do()
	if err != nil {
		return model.Message{}, wrapAPIError(fmt.Sprintf("failed to fetch message %s", id), err)
	}
	return parseMessage(msg, s.labelName), nil
}

func (s *Source) refreshLabels(ctx context.Context) error {
	resp, err := s.service.Users.Labels.List(s.cfg.User).Context(ctx).Do()
	if err != nil {
		return wrapAPIError("failed to list labels", err)
	}

	s.labelsMu.Lock()
	defer s.labelsMu.Unlock()
	for _, l := range resp.Labels {
		s.idByName[l.Name] = l.Id
		s.nameByID[l.Id] = l.Name
	}
	return nil
}

// labelName resolves a label ID; unknown IDs are returned unchanged, which is
// also how system labels such as INBOX are named.
func (s *Source) labelName(id string) string {
	s.labelsMu.RLock()
	defer s.labelsMu.RUnlock()
	if name, ok := s.nameByID[id]; ok {
		return name
	}
	return id
}

func (s *Source) cachedLabelID(name string) (string, bool) {
	s.labelsMu.RLock()
	defer s.labelsMu.RUnlock()
	id, ok := s.idByName[name]
	return id, ok
}

// getOrCreateLabel serializes creation so concurrent writers of the same
// new label create it once.
func (s *Source) getOrCreateLabel(ctx context.Context, name string) (string, error) {
	if id, ok := s.cachedLabelID(name); ok {
		return id, nil
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := s.refreshLabels(ctx); err != nil {
		return "", err
	}
	if id, ok := s.cachedLabelID(name); ok {
		return id, nil
	}

	created, err := s.service.Users.Labels.Create(s.cfg.User, &gmailapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", wrapAPIError(fmt.Sprintf("failed to create label %s", name), err)
	}

	s.labelsMu.Lock()
	s.idByName[created.Name] = created.Id
	s.nameByID[created.Id] = created.Name
	s.labelsMu.Unlock()

	s.logger.Info("label created", "label", created.Name, "label_id", created.Id)
	return created.Id, nil
}
