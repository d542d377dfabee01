package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/hitoshi/xnatbot/internal/model"
)

func gateWithAccounts(ids ...string) (*Gate, *mockAccountRepo) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	repo := &mockAccountRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Account, error) {
			if known[id] {
				return &model.Account{ID: id}, nil
			}
			return nil, model.NewAccountNotFoundError()
		},
	}
	return NewGate(repo), repo
}

func TestGate_Authorize(t *testing.T) {
	gate, _ := gateWithAccounts("acc-1")

	tests := []struct {
		name string
		cred model.Credential
		want bool
	}{
		{"self", model.Self, true},
		{"self pointer", &model.SelfCredential{}, true},
		{"existing account", model.AccountCredential{ID: "acc-1", AccessToken: "tok"}, true},
		{"existing account pointer", &model.AccountCredential{ID: "acc-1"}, true},
		{"unknown account", model.AccountCredential{ID: "acc-2"}, false},
		{"empty id", model.AccountCredential{}, false},
		{"nil", nil, false},
		{"nil account pointer", (*model.AccountCredential)(nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.Authorize(context.Background(), tt.cred); got != tt.want {
				t.Errorf("Authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_Authorize_StorageErrorIsNotAuthorized(t *testing.T) {
	repo := &mockAccountRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.Account, error) {
			return nil, model.NewStorageError("find account", errors.New("connection reset"))
		},
	}
	gate := NewGate(repo)

	if gate.Authorize(context.Background(), model.AccountCredential{ID: "acc-1"}) {
		t.Error("storage failure must not authorize")
	}
}

// 任意の資格情報と任意のアカウント集合について、判定がアカウントの存在と一致し
// 副作用を持たないことを検証する。
func TestGate_Authorize_ConsistentWithAccountSet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 100; round++ {
		var ids []string
		present := make(map[string]bool)
		n := rng.Intn(10)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("acc-%d", rng.Intn(20))
			ids = append(ids, id)
			present[id] = true
		}
		gate, repo := gateWithAccounts(ids...)

		for i := 0; i < 20; i++ {
			var cred model.Credential
			var want bool
			switch rng.Intn(3) {
			case 0:
				cred, want = model.Self, true
			case 1:
				id := fmt.Sprintf("acc-%d", rng.Intn(20))
				cred, want = model.AccountCredential{ID: id, AccessToken: "tok"}, present[id]
			default:
				cred, want = nil, false
			}

			first := gate.Authorize(context.Background(), cred)
			second := gate.Authorize(context.Background(), cred)
			if first != want || second != want {
				t.Fatalf("round %d: Authorize(%#v) = %v/%v, want %v", round, cred, first, second, want)
			}
		}

		if repo.mutations != 0 {
			t.Fatalf("round %d: gate mutated the account store %d times", round, repo.mutations)
		}
	}
}
