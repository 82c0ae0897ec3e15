package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// fakeGmail serves the subset of the Gmail REST API the source uses.
type fakeGmail struct {
	messages map[string]*gmailapi.Message
	labels   []*gmailapi.Label
	modified map[string][]string
	order    []string
	created  int
	pageSize int
	failList int // status to return from messages.list, zero for success
	mu       sync.Mutex
}

func newFakeGmail() *fakeGmail {
	return &fakeGmail{
		messages: make(map[string]*gmailapi.Message),
		modified: make(map[string][]string),
		labels: []*gmailapi.Label{
			{Id: "INBOX", Name: "INBOX"},
			{Id: "Label_7", Name: "classifications/records"},
		},
		pageSize: 2,
	}
}

func (f *fakeGmail) add(id string, labelIDs ...string) {
	f.messages[id] = &gmailapi.Message{
		Id:       id,
		ThreadId: "t" + id,
		LabelIds: labelIDs,
		Snippet:  "snippet " + id,
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "Subject", Value: "Subject " + id},
			},
			Parts: []*gmailapi.MessagePart{
				{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>html</p>"))}},
				{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("body " + id))}},
			},
		},
	}
	f.order = append(f.order, id)
}

func (f *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, gmailapi.Profile{EmailAddress: "me@example.com"})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/labels", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, gmailapi.ListLabelsResponse{Labels: f.labels})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		var label gmailapi.Label
		_ = json.NewDecoder(r.Body).Decode(&label)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		label.Id = fmt.Sprintf("Label_new_%d", f.created)
		f.labels = append(f.labels, &label)
		writeJSON(w, label)
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failList != 0 {
			w.WriteHeader(f.failList)
			writeJSON(w, map[string]any{"error": map[string]any{"code": f.failList, "message": "unavailable"}})
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
		end := min(start+f.pageSize, len(f.order))
		resp := gmailapi.ListMessagesResponse{}
		for _, id := range f.order[start:end] {
			resp.Messages = append(resp.Messages, &gmailapi.Message{Id: id})
		}
		if end < len(f.order) {
			resp.NextPageToken = strconv.Itoa(end)
		}
		writeJSON(w, resp)
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		msg, ok := f.messages[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "not found"}})
			return
		}
		writeJSON(w, msg)
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		var req gmailapi.ModifyMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		msg, ok := f.messages[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "not found"}})
			return
		}
		f.modified[id] = append(f.modified[id], req.AddLabelIds...)
		msg.LabelIds = append(msg.LabelIds, req.AddLabelIds...)
		writeJSON(w, msg)
	})
	return mux
}

func newTestSource(t *testing.T, fake *fakeGmail) *Source {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	svc, err := gmailapi.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	src, err := NewSourceWithService(context.Background(), svc, Config{}, nil)
	require.NoError(t, err)
	return src
}

func collect(t *testing.T, src *Source, limit int) ([]model.Message, []error) {
	t.Helper()
	var msgs []model.Message
	var errs []error
	for msg, err := range src.Scan(context.Background(), limit) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

func TestSource_Scan(t *testing.T) {
	fake := newFakeGmail()
	fake.add("18c5", "INBOX", "UNREAD")
	fake.add("18c4", "INBOX", "Label_7")
	fake.add("18c3", "INBOX")

	src := newTestSource(t, fake)
	assert.Equal(t, "gmail:me@example.com/INBOX", src.Scope())

	msgs, errs := collect(t, src, 0)
	require.Empty(t, errs)
	require.Len(t, msgs, 3)

	assert.Equal(t, []string{"18c5", "18c4", "18c3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.True(t, msgs[1].HasLabel("classifications/records"), "label IDs resolve to names")
	assert.True(t, model.DefaultTaxonomy().Intersects(msgs[1].Labels))
	assert.False(t, model.DefaultTaxonomy().Intersects(msgs[0].Labels))
	assert.Equal(t, "Alice <alice@example.com>", msgs[0].Sender)
}

func TestSource_ScanLimit(t *testing.T) {
	fake := newFakeGmail()
	for i := 9; i > 0; i-- {
		fake.add(fmt.Sprintf("18c%d", i), "INBOX")
	}

	msgs, errs := collect(t, newTestSource(t, fake), 3)
	require.Empty(t, errs)
	assert.Len(t, msgs, 3)
}

func TestSource_ScanUnavailable(t *testing.T) {
	fake := newFakeGmail()
	fake.add("1", "INBOX")
	fake.failList = http.StatusServiceUnavailable

	msgs, errs := collect(t, newTestSource(t, fake), 0)
	assert.Empty(t, msgs)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], common.ErrSourceUnavailable)
}

func TestSource_LoadBody(t *testing.T) {
	fake := newFakeGmail()
	fake.add("18c1", "INBOX")
	src := newTestSource(t, fake)

	full, err := src.LoadBody(context.Background(), model.Message{ID: "18c1"})
	require.NoError(t, err)
	assert.Equal(t, "body 18c1", full.Body)

	_, err = src.LoadBody(context.Background(), model.Message{ID: "missing"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSource_ApplyLabel(t *testing.T) {
	fake := newFakeGmail()
	fake.add("18c1", "INBOX")
	src := newTestSource(t, fake)
	ctx := context.Background()

	t.Run("existing label", func(t *testing.T) {
		require.NoError(t, src.ApplyLabel(ctx, "18c1", model.LabelRecords))
		assert.Equal(t, []string{"Label_7"}, fake.modified["18c1"])
	})

	t.Run("creates missing label once", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, src.ApplyLabel(ctx, "18c1", model.LabelUnsure))
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, fake.created)
	})

	t.Run("missing message", func(t *testing.T) {
		err := src.ApplyLabel(ctx, "nope", model.LabelRecords)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}
