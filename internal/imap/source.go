// Package imap reads a mailbox over IMAP and records classifications as
// message keywords.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// Connection security modes.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityInsecure = "insecure"
)

// Options holds IMAP connection settings.
type Options struct {
	Host               string
	Username           string
	Password           string
	Mailbox            string
	Security           string
	Port               int
	BatchSize          int
	InsecureSkipVerify bool
}

func (o Options) withDefaults() Options {
	if o.Mailbox == "" {
		o.Mailbox = "INBOX"
	}
	if o.Security == "" {
		o.Security = SecurityTLS
	}
	if o.Port <= 0 {
		if o.Security == SecurityTLS {
			o.Port = 993
		} else {
			o.Port = 143
		}
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	return o
}

// Source is a service.MessageSource and service.BodyLoader over one IMAP
// mailbox. Message IDs are UIDs in decimal; the scope includes UIDVALIDITY so
// a renumbered mailbox never reuses a stale seen-cache mark.
type Source struct {
	client         *imapclient.Client
	logger         *slog.Logger
	permanentFlags []imapv2.Flag
	opts           Options
	uidValidity    uint32
	mu             sync.Mutex
}

// NewSource connects, logs in and selects the mailbox.
func NewSource(ctx context.Context, opts Options, logger *slog.Logger) (*Source, error) {
	opts = opts.withDefaults()
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: imap host is empty", common.ErrMissingConfig)
	}
	if opts.Username == "" {
		return nil, fmt.Errorf("%w: imap username is empty", common.ErrMissingConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{
		opts:   opts,
		logger: logger.With("source", "imap", "mailbox", opts.Mailbox),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Scope identifies the account, mailbox and UID generation.
func (s *Source) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("imap:%s@%s/%s#%d", s.opts.Username, s.opts.Host, s.opts.Mailbox, s.uidValidity)
}

// Scan yields envelopes and flags newest first, fetched in batches.
func (s *Source) Scan(ctx context.Context, limit int) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		uids, err := s.searchAll(ctx)
		if err != nil {
			yield(model.Message{}, err)
			return
		}

		slices.Reverse(uids)
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
		}

		for start := 0; start < len(uids); start += s.opts.BatchSize {
			if ctx.Err() != nil {
				return
			}
			batch := uids[start:min(start+s.opts.BatchSize, len(uids))]

			msgs, err := s.fetchEnvelopes(ctx, batch)
			if err != nil {
				yield(model.Message{}, err)
				return
			}

			for _, uid := range batch {
				msg, ok := msgs[uid]
				if !ok {
					// expunged between search and fetch
					continue
				}
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

// LoadBody fetches the full RFC 822 message without setting \Seen.
func (s *Source) LoadBody(ctx context.Context, msg model.Message) (model.Message, error) {
	uid, err := parseUID(msg.ID)
	if err != nil {
		return msg, err
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	buf, err := s.fetchOne(ctx, uid, &imapv2.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	})
	if err != nil {
		return msg, err
	}

	full := messageFromBuffer(buf)
	if raw := buf.FindBodySection(section); raw != nil {
		full.Body = plainTextBody(raw)
	}
	return full, nil
}

// ApplyLabel adds the label as a keyword. STORE +FLAGS is idempotent.
func (s *Source) ApplyLabel(ctx context.Context, messageID string, label model.Label) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}

	return s.withClient(ctx, func(c *imapclient.Client) error {
		if !s.canStoreLocked(imapv2.Flag(label)) {
			return fmt.Errorf("%w: mailbox %s does not accept keyword %s", common.ErrPermissionDenied, s.opts.Mailbox, label)
		}
		cmd := c.Store(imapv2.UIDSetNum(uid), &imapv2.StoreFlags{
			Op:     imapv2.StoreFlagsAdd,
			Silent: true,
			Flags:  []imapv2.Flag{imapv2.Flag(label)},
		}, nil)
		if err := cmd.Close(); err != nil {
			return fmt.Errorf("store keyword on UID %d: %w", uid, err)
		}
		s.logger.Debug("label applied", "message_id", messageID, "label", label)
		return nil
	})
}

// Close logs out and closes the connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("imap logout failed", "error", err)
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Source) searchAll(ctx context.Context) ([]imapv2.UID, error) {
	var uids []imapv2.UID
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		// reselect so new arrivals and flag changes are visible
		if err := s.selectLocked(c); err != nil {
			return err
		}
		data, err := c.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}
		uids = data.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(uids)
	return uids, nil
}

func (s *Source) fetchEnvelopes(ctx context.Context, uids []imapv2.UID) (map[imapv2.UID]model.Message, error) {
	out := make(map[imapv2.UID]model.Message, len(uids))
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		cmd := c.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
			Envelope: true,
			Flags:    true,
			UID:      true,
		})
		defer func() { _ = cmd.Close() }()

		for {
			data := cmd.Next()
			if data == nil {
				break
			}
			buf, err := data.Collect()
			if err != nil {
				s.logger.Warn("skipping unreadable message", "error", err)
				continue
			}
			out[buf.UID] = messageFromBuffer(buf)
		}

		if err := cmd.Close(); err != nil {
			return fmt.Errorf("fetching envelopes: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *Source) fetchOne(ctx context.Context, uid imapv2.UID, opts *imapv2.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	var buf *imapclient.FetchMessageBuffer
	err := s.withClient(ctx, func(c *imapclient.Client) error {
		cmd := c.Fetch(imapv2.UIDSetNum(uid), opts)
		defer func() { _ = cmd.Close() }()

		data := cmd.Next()
		if data == nil {
			return fmt.Errorf("message UID %d: %w", uid, common.ErrNotFound)
		}
		collected, err := data.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}
		buf = collected
		return cmd.Close()
	})
	return buf, err
}

// withClient runs fn on a connected client under the connection lock. A
// transport failure drops the connection so the next call redials.
func (s *Source) withClient(ctx context.Context, fn func(*imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connectLocked(ctx)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	err = fn(c)
	interrupted := !stop()

	if err == nil {
		return nil
	}
	if interrupted {
		s.client = nil
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}

	var imapErr *imapv2.Error
	if errors.As(err, &imapErr) || errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrPermissionDenied) {
		return err
	}

	_ = c.Close()
	s.client = nil
	return fmt.Errorf("%w: %w", common.ErrSourceUnavailable, err)
}

func (s *Source) connectLocked(ctx context.Context) (*imapclient.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify, // #nosec G402
		},
	}

	var (
		c   *imapclient.Client
		err error
	)
	switch s.opts.Security {
	case SecurityTLS:
		c, err = imapclient.DialTLS(address, options)
	case SecurityStartTLS:
		c, err = imapclient.DialStartTLS(address, options)
	case SecurityInsecure:
		c, err = imapclient.DialInsecure(address, options)
	default:
		return nil, fmt.Errorf("%w: unknown imap security %q", common.ErrInvalidConfig, s.opts.Security)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial imap %s: %w", common.ErrSourceUnavailable, address, err)
	}

	if err := ctx.Err(); err != nil {
		_ = c.Close()
		return nil, err
	}

	if err := c.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: imap login failed for %s: %w", common.ErrPermissionDenied, s.opts.Username, err)
	}

	if err := s.selectLocked(c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrSourceUnavailable, err)
	}

	s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "security", s.opts.Security)
	s.client = c
	return c, nil
}

func (s *Source) selectLocked(c *imapclient.Client) error {
	data, err := c.Select(s.opts.Mailbox, nil).Wait()
	if err != nil {
		return fmt.Errorf("selecting %s: %w", s.opts.Mailbox, err)
	}
	if s.uidValidity != 0 && data.UIDValidity != s.uidValidity {
		s.logger.Warn("mailbox UIDVALIDITY changed", "old", s.uidValidity, "new", data.UIDValidity)
	}
	s.uidValidity = data.UIDValidity
	s.permanentFlags = data.PermanentFlags
	return nil
}

// canStoreLocked reports whether flag persists: either the server lists it
// or it accepts new keywords.
func (s *Source) canStoreLocked(flag imapv2.Flag) bool {
	return slices.Contains(s.permanentFlags, imapv2.FlagWildcard) || slices.Contains(s.permanentFlags, flag)
}

func parseUID(id string) (imapv2.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid IMAP UID %q: %w", id, common.ErrNotFound)
	}
	return imapv2.UID(n), nil
}
