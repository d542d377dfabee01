package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/hitoshi/xnatbot/internal/model"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedSlackRequest(t *testing.T, secret string, form url.Values) *http.Request {
	t.Helper()
	body := form.Encode()
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func slashForm(userID, text string) url.Values {
	return url.Values{
		"command":    {"/xnat"},
		"user_id":    {userID},
		"text":       {text},
		"channel_id": {"C1"},
	}
}

func decodeSlackReply(t *testing.T, w *httptest.ResponseRecorder) slack.Msg {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusOK, w.Body.String())
	}
	var msg slack.Msg
	if err := json.NewDecoder(w.Body).Decode(&msg); err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if msg.ResponseType != slack.ResponseTypeEphemeral {
		t.Errorf("response_type = %q, want ephemeral", msg.ResponseType)
	}
	return msg
}

func TestSlackCommandHandler_RejectsBadSignature(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *http.Request)
	}{
		{"wrong secret", func(r *http.Request) {}},
		{"missing headers", func(r *http.Request) {
			r.Header.Del("X-Slack-Signature")
		}},
		{"stale timestamp", func(r *http.Request) {
			r.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &mockAccountStore{
				findByExternalIdentityIDFn: func(ctx context.Context, id string) (*model.Account, error) {
					t.Error("account lookup should not happen for unverified requests")
					return nil, nil
				},
			}
			h := NewSlackCommandHandler(testSigningSecret, accounts, &mockCoordinator{}, &mockMessageService{})

			req := signedSlackRequest(t, "another-secret", slashForm("U123", "help"))
			if tt.name != "wrong secret" {
				req = signedSlackRequest(t, testSigningSecret, slashForm("U123", "help"))
			}
			tt.mutate(req)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestSlackCommandHandler_UnknownUserBeginsAssociation(t *testing.T) {
	var begunFor string
	coord := &mockCoordinator{
		beginAssociationFn: func(ctx context.Context, externalIdentityID string) (string, error) {
			begunFor = externalIdentityID
			return "ref", nil
		},
	}
	messages := &mockMessageService{
		processFn: func(ctx context.Context, text string, cred model.Credential) (string, error) {
			t.Error("Process should not be called for unknown users")
			return "", nil
		},
	}
	h := NewSlackCommandHandler(testSigningSecret, &mockAccountStore{}, coord, messages)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedSlackRequest(t, testSigningSecret, slashForm("U999", "projects")))

	msg := decodeSlackReply(t, w)
	if begunFor != "U999" {
		t.Errorf("BeginAssociation called for %q, want U999", begunFor)
	}
	if msg.Text != "Please check the direct message from me to log in." {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestSlackCommandHandler_BeginAssociationFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "timeout",
			err:      model.NewAssociationBeginFailedError(model.NewUpstreamTimeoutError("Slack", context.DeadlineExceeded)),
			wantText: "Slack did not respond in time. Please run the command again.",
		},
		{
			name:     "other failure",
			err:      model.NewAssociationBeginFailedError(errors.New("channel_not_found")),
			wantText: "Sorry, I could not send you a login link. Please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &mockCoordinator{
				beginAssociationFn: func(ctx context.Context, externalIdentityID string) (string, error) {
					return "", tt.err
				},
			}
			h := NewSlackCommandHandler(testSigningSecret, &mockAccountStore{}, coord, &mockMessageService{})

			w := httptest.NewRecorder()
			h.ServeHTTP(w, signedSlackRequest(t, testSigningSecret, slashForm("U999", "")))

			if msg := decodeSlackReply(t, w); msg.Text != tt.wantText {
				t.Errorf("text = %q, want %q", msg.Text, tt.wantText)
			}
		})
	}
}

func TestSlackCommandHandler_KnownUserRunsCommand(t *testing.T) {
	accounts := &mockAccountStore{
		findByExternalIdentityIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			if id != "U123" {
				t.Errorf("lookup id = %q, want U123", id)
			}
			return testAccount(), nil
		},
	}
	var gotText string
	var gotCred model.Credential
	messages := &mockMessageService{
		processFn: func(ctx context.Context, text string, cred model.Credential) (string, error) {
			gotText, gotCred = text, cred
			return "*2 projects* found.", nil
		},
	}
	h := NewSlackCommandHandler(testSigningSecret, accounts, &mockCoordinator{}, messages)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedSlackRequest(t, testSigningSecret, slashForm("U123", "projects")))

	msg := decodeSlackReply(t, w)
	if msg.Text != "*2 projects* found." {
		t.Errorf("text = %q", msg.Text)
	}
	if gotText != "projects" {
		t.Errorf("Process text = %q, want projects", gotText)
	}
	want := model.AccountCredential{ID: "account-1", AccessToken: "token-1"}
	if gotCred != want {
		t.Errorf("credential = %#v, want %#v", gotCred, want)
	}
}

func TestSlackCommandHandler_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{"invalid command", model.NewInvalidCommandError("frobnicate"), "Invalid command. Try `/xnat help`."},
		{"not authorized", model.NewNotAuthorizedError(), "Not Authorized"},
		{"storage error is redacted", model.NewStorageError("get message", errors.New("pq: timeout")), "Sorry, something went wrong. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &mockAccountStore{
				findByExternalIdentityIDFn: func(ctx context.Context, id string) (*model.Account, error) {
					return testAccount(), nil
				},
			}
			messages := &mockMessageService{
				processFn: func(ctx context.Context, text string, cred model.Credential) (string, error) {
					return "", tt.err
				},
			}
			h := NewSlackCommandHandler(testSigningSecret, accounts, &mockCoordinator{}, messages)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, signedSlackRequest(t, testSigningSecret, slashForm("U123", "frobnicate")))

			if msg := decodeSlackReply(t, w); msg.Text != tt.wantText {
				t.Errorf("text = %q, want %q", msg.Text, tt.wantText)
			}
		})
	}
}

func TestSlackCommandHandler_LookupFailureDoesNotBeginAssociation(t *testing.T) {
	accounts := &mockAccountStore{
		findByExternalIdentityIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			return nil, model.NewStorageError("find account", errors.New("connection reset"))
		},
	}
	coord := &mockCoordinator{
		beginAssociationFn: func(ctx context.Context, externalIdentityID string) (string, error) {
			t.Error("BeginAssociation should not be called when the lookup failed")
			return "", nil
		},
	}
	h := NewSlackCommandHandler(testSigningSecret, accounts, coord, &mockMessageService{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedSlackRequest(t, testSigningSecret, slashForm("U123", "help")))

	if msg := decodeSlackReply(t, w); !strings.HasPrefix(msg.Text, "Sorry, something went wrong") {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestSlackCommandHandler_MissingUserID(t *testing.T) {
	h := NewSlackCommandHandler(testSigningSecret, &mockAccountStore{}, &mockCoordinator{}, &mockMessageService{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedSlackRequest(t, testSigningSecret, url.Values{"text": {"help"}}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
