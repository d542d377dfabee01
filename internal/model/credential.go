package model

// Credential は認可ゲートに渡される呼び出し元の資格情報。
// SelfCredential または AccountCredential のいずれかで、それ以外の実装は持たない。
type Credential interface {
	isCredential()
}

// SelfCredential はシステム内部からの呼び出しを表す。常に認可される。
type SelfCredential struct{}

// AccountCredential は解決済みアカウントから導出された資格情報。
type AccountCredential struct {
	ID          string
	AccessToken string
}

func (SelfCredential) isCredential()    {}
func (AccountCredential) isCredential() {}

// Self はSelfCredentialの値。
var Self Credential = SelfCredential{}

// CredentialFor はアカウントから資格情報を導出する。
func CredentialFor(account *Account) AccountCredential {
	return AccountCredential{ID: account.ID, AccessToken: account.AccessToken}
}
