package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError_ErrorIncludesCause(t *testing.T) {
	err := NewStorageError("find account", errors.New("connection reset"))

	got := err.Error()
	want := "[STORAGE_ERROR] storage operation failed: find account: connection reset"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAPIError_UnwrapExposesCause(t *testing.T) {
	err := NewUpstreamTimeoutError("slack", context.DeadlineExceeded)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should find context.DeadlineExceeded through Unwrap")
	}
}

func TestHasCode_FindsNestedCode(t *testing.T) {
	inner := NewUpstreamTimeoutError("slack", context.DeadlineExceeded)
	outer := fmt.Errorf("begin: %w", NewAssociationBeginFailedError(inner))

	tests := []struct {
		code string
		want bool
	}{
		{ErrCodeAssociationBeginFailed, true},
		{ErrCodeUpstreamTimeout, true},
		{ErrCodeStorage, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := HasCode(outer, tt.code); got != tt.want {
				t.Errorf("HasCode(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestHasCode_NilAndPlainErrors(t *testing.T) {
	if HasCode(nil, ErrCodeStorage) {
		t.Error("HasCode(nil) should be false")
	}
	if HasCode(errors.New("plain"), ErrCodeStorage) {
		t.Error("HasCode(plain error) should be false")
	}
}

func TestIsPublic_AllowList(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not authorized", NewNotAuthorizedError(), true},
		{"invalid command", NewInvalidCommandError("bogus"), true},
		{"expired link", NewAssociationLinkExpiredError(), true},
		{"invalid link", NewInvalidAssociationLinkError(), true},
		{"storage", NewStorageError("put", errors.New("disk full")), false},
		{"upstream", NewUpstreamError("xnat", errors.New("500")), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPublic(tt.err); got != tt.want {
				t.Errorf("IsPublic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssociationLink_ExpiredAt(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	link := &AssociationLink{Ref: "r", CreatedAt: created}

	if link.ExpiredAt(created.Add(48*time.Hour), 0) {
		t.Error("TTL 0 should never expire")
	}
	if link.ExpiredAt(created.Add(time.Hour), 24*time.Hour) {
		t.Error("link within TTL should not be expired")
	}
	if !link.ExpiredAt(created.Add(25*time.Hour), 24*time.Hour) {
		t.Error("link older than TTL should be expired")
	}
}

func TestCredentialFor_CopiesAccountFields(t *testing.T) {
	cred := CredentialFor(&Account{ID: "acc-1", AccessToken: "tok"})

	if cred.ID != "acc-1" || cred.AccessToken != "tok" {
		t.Errorf("CredentialFor() = %+v", cred)
	}
}
