package association

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/xnatbot/internal/auth"
	"github.com/hitoshi/xnatbot/internal/model"
	"github.com/hitoshi/xnatbot/internal/notifier"
	"github.com/hitoshi/xnatbot/internal/repository"
)

// memoryLinkRepo はミューテックスで原子性を保つインメモリのリンクストア。
type memoryLinkRepo struct {
	mu     sync.Mutex
	links  map[string]model.AssociationLink
	putErr error
}

func newMemoryLinkRepo() *memoryLinkRepo {
	return &memoryLinkRepo{links: make(map[string]model.AssociationLink)}
}

func (r *memoryLinkRepo) Put(_ context.Context, link *model.AssociationLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putErr != nil {
		return r.putErr
	}
	if _, exists := r.links[link.Ref]; exists {
		return model.NewStorageError("put association link", errors.New("duplicate ref"))
	}
	r.links[link.Ref] = *link
	return nil
}

func (r *memoryLinkRepo) Get(_ context.Context, ref string) (*model.AssociationLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[ref]
	if !ok {
		return nil, model.NewAssociationLinkNotFoundError(ref)
	}
	return &link, nil
}

func (r *memoryLinkRepo) MarkUsed(_ context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[ref]
	if !ok || link.Used {
		return false, nil
	}
	now := time.Now()
	link.Used = true
	link.UsedAt = &now
	r.links[ref] = link
	return true, nil
}

func (r *memoryLinkRepo) ReleaseClaim(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if link, ok := r.links[ref]; ok {
		link.Used = false
		link.UsedAt = nil
		r.links[ref] = link
	}
	return nil
}

func (r *memoryLinkRepo) get(ref string) (model.AssociationLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[ref]
	return link, ok
}

// memoryAccountRepo はexternal_identity_idで一意性を保つインメモリのアカウントストア。
type memoryAccountRepo struct {
	mu          sync.Mutex
	accounts    map[string]model.Account
	registerErr error
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{accounts: make(map[string]model.Account)}
}

func (r *memoryAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		return &a, nil
	}
	return nil, model.NewAccountNotFoundError()
}

func (r *memoryAccountRepo) FindByExternalIdentityID(_ context.Context, externalID string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ExternalIdentityID == externalID {
			return &a, nil
		}
	}
	return nil, model.NewAccountNotFoundError()
}

func (r *memoryAccountRepo) FindByLoginName(_ context.Context, _ string) (*model.Account, error) {
	return nil, model.NewAccountNotFoundError()
}

func (r *memoryAccountRepo) SetByID(_ context.Context, id string, account *model.Account) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := *account
	a.ID = id
	r.accounts[id] = a
	return &a, nil
}

func (r *memoryAccountRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

func (r *memoryAccountRepo) Register(_ context.Context, params model.RegisterParams) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return nil, r.registerErr
	}
	if params.ExternalIdentityID == "" {
		return nil, model.NewInvalidRegistrationError("externalIdentityId")
	}
	if params.AccessToken == "" {
		return nil, model.NewInvalidRegistrationError("accessToken")
	}
	for id, a := range r.accounts {
		if a.ExternalIdentityID == params.ExternalIdentityID {
			a.AccessToken = params.AccessToken
			r.accounts[id] = a
			return &a, nil
		}
	}
	a := model.Account{
		ID:                 uuid.New().String(),
		ExternalIdentityID: params.ExternalIdentityID,
		AccessToken:        params.AccessToken,
	}
	r.accounts[a.ID] = a
	return &a, nil
}

func (r *memoryAccountRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// fakeNotifier は送信内容を記録するNotifier。
type fakeNotifier struct {
	mu         sync.Mutex
	openErr    error
	sendErr    error
	successErr error
	block      bool
	links      []sentLink
	successes  []string
}

type sentLink struct {
	channelID, userID, text, linkText string
}

func (n *fakeNotifier) OpenChannel(ctx context.Context, externalID string) (string, error) {
	if n.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n.openErr != nil {
		return "", n.openErr
	}
	return "D-" + externalID, nil
}

func (n *fakeNotifier) SendLink(_ context.Context, channelID, userID, text, linkText string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.links = append(n.links, sentLink{channelID, userID, text, linkText})
	return nil
}

func (n *fakeNotifier) NotifySuccess(_ context.Context, externalID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.successErr != nil {
		return n.successErr
	}
	n.successes = append(n.successes, externalID+":"+text)
	return nil
}

// fakeProvider は固定トークンを返すOAuthProvider。
type fakeProvider struct {
	token       string
	exchangeErr error
	block       bool
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (string, error) {
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.exchangeErr != nil {
		return "", p.exchangeErr
	}
	if code == "" {
		return "", errors.New("authorization code is required")
	}
	return p.token, nil
}

// --- compile-time interface checks ---
var _ repository.AssociationLinkRepository = (*memoryLinkRepo)(nil)
var _ repository.AccountRepository = (*memoryAccountRepo)(nil)
var _ notifier.Notifier = (*fakeNotifier)(nil)
var _ auth.OAuthProvider = (*fakeProvider)(nil)
