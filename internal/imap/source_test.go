package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// startServer runs an in-memory IMAP server holding count messages in INBOX
// and returns options for connecting to it.
func startServer(t *testing.T, count int) Options {
	t.Helper()

	user := imapmemserver.NewUser("u", "p")
	require.NoError(t, user.Create("INBOX", nil))
	for i := 1; i <= count; i++ {
		raw := fmt.Sprintf("From: Sender %[1]d <sender%[1]d@example.com>\r\n"+
			"To: me@example.com\r\n"+
			"Subject: message %[1]d\r\n"+
			"Date: Mon, 03 Mar 2025 09:%02[1]d:00 +0000\r\n"+
			"Message-Id: <m%[1]d@example.com>\r\n"+
			"\r\n"+
			"body %[1]d\r\n", i)
		_, err := user.Append("INBOX", bytes.NewReader([]byte(raw)), &imapv2.AppendOptions{
			Time: time.Date(2025, 3, 3, 9, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	mem := imapmemserver.New()
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Logger:       discardLogger{},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return Options{
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Username: "u",
		Password: "p",
		Security: SecurityInsecure,
	}
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

func newTestSource(t *testing.T, opts Options) *Source {
	t.Helper()
	s, err := NewSource(context.Background(), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(seq iter.Seq2[model.Message, error]) ([]model.Message, error) {
	var msgs []model.Message
	for msg, err := range seq {
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.ID)
	}
	return out
}

func byID(t *testing.T, msgs []model.Message, id string) model.Message {
	t.Helper()
	for _, msg := range msgs {
		if msg.ID == id {
			return msg
		}
	}
	require.FailNow(t, "message not scanned", id)
	return model.Message{}
}

func hasSeen(msg model.Message) bool {
	return msg.HasLabel(string(imapv2.FlagSeen)) || msg.HasLabel(strings.ToLower(string(imapv2.FlagSeen)))
}

func TestSource_Scan(t *testing.T) {
	s := newTestSource(t, startServer(t, 3))

	tests := []struct {
		name  string
		want  []string
		limit int
	}{
		{name: "newest first", limit: 0, want: []string{"3", "2", "1"}},
		{name: "limited", limit: 2, want: []string{"3", "2"}},
		{name: "limit above count", limit: 10, want: []string{"3", "2", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := collect(s.Scan(context.Background(), tt.limit))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(msgs))
		})
	}

	msgs, err := collect(s.Scan(context.Background(), 1))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "message 3", msgs[0].Subject)
	assert.Equal(t, "Sender 3 <sender3@example.com>", msgs[0].Sender)
	assert.Equal(t, []string{"me@example.com"}, msgs[0].Recipients)
	assert.Empty(t, msgs[0].Body)
}

func TestSource_ScanSmallBatches(t *testing.T) {
	opts := startServer(t, 5)
	opts.BatchSize = 2
	s := newTestSource(t, opts)

	msgs, err := collect(s.Scan(context.Background(), 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, ids(msgs))
}

func TestSource_Scope(t *testing.T) {
	s := newTestSource(t, startServer(t, 1))

	scope := s.Scope()
	assert.True(t, strings.HasPrefix(scope, "imap:u@127.0.0.1/INBOX#"), scope)
	assert.NotEqual(t, "imap:u@127.0.0.1/INBOX#0", scope)
}

func TestSource_ApplyLabel(t *testing.T) {
	s := newTestSource(t, startServer(t, 2))
	ctx := context.Background()
	tax := model.DefaultTaxonomy()

	before, err := collect(s.Scan(ctx, 0))
	require.NoError(t, err)
	assert.False(t, tax.Intersects(byID(t, before, "1").Labels))

	require.NoError(t, s.ApplyLabel(ctx, "1", model.LabelRecords))
	require.NoError(t, s.ApplyLabel(ctx, "1", model.LabelRecords))

	after, err := collect(s.Scan(ctx, 0))
	require.NoError(t, err)
	labeled := byID(t, after, "1")
	assert.True(t, tax.Intersects(labeled.Labels))
	assert.True(t, labeled.HasLabel(string(model.LabelRecords)))
	assert.False(t, tax.Intersects(byID(t, after, "2").Labels))
}

func TestSource_ApplyLabelErrors(t *testing.T) {
	s := newTestSource(t, startServer(t, 1))
	ctx := context.Background()

	t.Run("malformed id", func(t *testing.T) {
		err := s.ApplyLabel(ctx, "not-a-uid", model.LabelRecords)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("keywords not permanent", func(t *testing.T) {
		s.mu.Lock()
		saved := s.permanentFlags
		s.permanentFlags = []imapv2.Flag{imapv2.FlagSeen}
		s.mu.Unlock()
		t.Cleanup(func() {
			s.mu.Lock()
			s.permanentFlags = saved
			s.mu.Unlock()
		})

		err := s.ApplyLabel(ctx, "1", model.LabelRecords)
		assert.ErrorIs(t, err, common.ErrPermissionDenied)
	})
}

func TestSource_LoadBody(t *testing.T) {
	s := newTestSource(t, startServer(t, 3))
	ctx := context.Background()

	full, err := s.LoadBody(ctx, model.Message{ID: "2"})
	require.NoError(t, err)
	assert.Equal(t, "2", full.ID)
	assert.Equal(t, "message 2", full.Subject)
	assert.Contains(t, full.Body, "body 2")

	msgs, err := collect(s.Scan(ctx, 0))
	require.NoError(t, err)
	assert.False(t, hasSeen(byID(t, msgs, "2")))

	_, err = s.LoadBody(ctx, model.Message{ID: "99"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSource_RedialsAfterDroppedConnection(t *testing.T) {
	s := newTestSource(t, startServer(t, 2))
	ctx := context.Background()

	s.mu.Lock()
	require.NotNil(t, s.client)
	_ = s.client.Close()
	s.mu.Unlock()

	// the first call may notice the dead connection; the one after redials
	if _, err := collect(s.Scan(ctx, 0)); err != nil {
		assert.ErrorIs(t, err, common.ErrSourceUnavailable)
	}

	msgs, err := collect(s.Scan(ctx, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, ids(msgs))
	require.NoError(t, s.ApplyLabel(ctx, "2", model.LabelUnsure))
}

func TestSource_Close(t *testing.T) {
	s, err := NewSource(context.Background(), startServer(t, 1), nil)
	require.NoError(t, err)

	_ = s.Close()
	assert.Nil(t, s.client)
	assert.NoError(t, s.Close())
}

func TestNewSource_Errors(t *testing.T) {
	opts := startServer(t, 1)

	tests := []struct {
		wantErr error
		mutate  func(*Options)
		name    string
	}{
		{name: "missing host", mutate: func(o *Options) { o.Host = "" }, wantErr: common.ErrMissingConfig},
		{name: "missing user", mutate: func(o *Options) { o.Username = "" }, wantErr: common.ErrMissingConfig},
		{name: "bad password", mutate: func(o *Options) { o.Password = "wrong" }, wantErr: common.ErrPermissionDenied},
		{name: "unknown security", mutate: func(o *Options) { o.Security = "plaintext" }, wantErr: common.ErrInvalidConfig},
		{name: "missing mailbox", mutate: func(o *Options) { o.Mailbox = "Archive" }, wantErr: common.ErrSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := opts
			tt.mutate(&o)
			_, err := NewSource(context.Background(), o, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
