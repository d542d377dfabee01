package handler

import (
	"context"

	"github.com/hitoshi/xnatbot/internal/model"
)

// --- モック定義 ---

type mockCoordinator struct {
	authorizationURLFn func(ctx context.Context, ref string) (string, error)
	handleCallbackFn   func(ctx context.Context, code, state string) (*model.Account, error)
	beginAssociationFn func(ctx context.Context, externalIdentityID string) (string, error)
}

func (m *mockCoordinator) AuthorizationURL(ctx context.Context, ref string) (string, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(ctx, ref)
	}
	return "", nil
}

func (m *mockCoordinator) HandleCallback(ctx context.Context, code, state string) (*model.Account, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, state)
	}
	return nil, nil
}

func (m *mockCoordinator) BeginAssociation(ctx context.Context, externalIdentityID string) (string, error) {
	if m.beginAssociationFn != nil {
		return m.beginAssociationFn(ctx, externalIdentityID)
	}
	return "", nil
}

type mockSessionService struct {
	createSessionFn  func(ctx context.Context, accountID string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	currentAccountFn func(ctx context.Context, sessionID string) (*model.Account, error)
}

func (m *mockSessionService) CreateSession(ctx context.Context, accountID string) (*model.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, accountID)
	}
	return &model.Session{ID: "session-for-" + accountID, AccountID: accountID}, nil
}

func (m *mockSessionService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockSessionService) CurrentAccount(ctx context.Context, sessionID string) (*model.Account, error) {
	if m.currentAccountFn != nil {
		return m.currentAccountFn(ctx, sessionID)
	}
	return nil, model.NewNotAuthorizedError()
}

type mockMessageService struct {
	getMessageFn func(ctx context.Context, cred model.Credential) (string, error)
	setMessageFn func(ctx context.Context, value string, cred model.Credential) (string, error)
	processFn    func(ctx context.Context, text string, cred model.Credential) (string, error)
}

func (m *mockMessageService) GetMessage(ctx context.Context, cred model.Credential) (string, error) {
	if m.getMessageFn != nil {
		return m.getMessageFn(ctx, cred)
	}
	return "Hello World", nil
}

func (m *mockMessageService) SetMessage(ctx context.Context, value string, cred model.Credential) (string, error) {
	if m.setMessageFn != nil {
		return m.setMessageFn(ctx, value, cred)
	}
	return value, nil
}

func (m *mockMessageService) Process(ctx context.Context, text string, cred model.Credential) (string, error) {
	if m.processFn != nil {
		return m.processFn(ctx, text, cred)
	}
	return "", nil
}

type mockAccountStore struct {
	findByIDFn                 func(ctx context.Context, id string) (*model.Account, error)
	findByExternalIdentityIDFn func(ctx context.Context, externalIdentityID string) (*model.Account, error)
}

func (m *mockAccountStore) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, model.NewAccountNotFoundError()
}

func (m *mockAccountStore) FindByExternalIdentityID(ctx context.Context, externalIdentityID string) (*model.Account, error) {
	if m.findByExternalIdentityIDFn != nil {
		return m.findByExternalIdentityIDFn(ctx, externalIdentityID)
	}
	return nil, model.NewAccountNotFoundError()
}

// compile-time interface checks
var (
	_ Coordinator    = (*mockCoordinator)(nil)
	_ SessionService = (*mockSessionService)(nil)
	_ MessageService = (*mockMessageService)(nil)
	_ AccountStore   = (*mockAccountStore)(nil)
)

func testAccount() *model.Account {
	return &model.Account{ID: "account-1", ExternalIdentityID: "U123", AccessToken: "token-1"}
}
