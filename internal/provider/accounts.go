package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/hitoshi/meetsync/internal/model"
)

// StaticAccountSource はメモリ上に登録された認証情報を返すAccountSource。
// トークンの発行・更新を担う認証レイヤーが外部にあるため、ここでは
// 解決済みの認証情報の置き場だけを提供する。テストと単一テナント構成で使う。
type StaticAccountSource struct {
	mu       sync.RWMutex
	accounts map[string]*Account // key: provider + "/" + userID
	defaults map[model.ProviderKey]*Account
}

// NewStaticAccountSource はStaticAccountSourceを生成する。
func NewStaticAccountSource() *StaticAccountSource {
	return &StaticAccountSource{
		accounts: make(map[string]*Account),
		defaults: make(map[model.ProviderKey]*Account),
	}
}

// Register はユーザー固有の認証情報を登録する。
func (s *StaticAccountSource) Register(provider model.ProviderKey, account *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[string(provider)+"/"+account.UserID] = account
}

// RegisterDefault はプロバイダー全体の既定認証情報を登録する。
// ユーザー固有の登録がない場合のフォールバックとして使われる。
func (s *StaticAccountSource) RegisterDefault(provider model.ProviderKey, account *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[provider] = account
}

// RegisterToken はOAuthトークンをユーザー認証情報として登録する。
func (s *StaticAccountSource) RegisterToken(provider model.ProviderKey, userID string, token *oauth2.Token) {
	s.Register(provider, &Account{UserID: userID, Token: token})
}

// AccountFor はユーザー・プロバイダーの組の認証情報を解決する。
func (s *StaticAccountSource) AccountFor(ctx context.Context, provider model.ProviderKey, userID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if account, ok := s.accounts[string(provider)+"/"+userID]; ok {
		return account, nil
	}
	if account, ok := s.defaults[provider]; ok {
		copied := *account
		copied.UserID = userID
		return &copied, nil
	}
	return nil, fmt.Errorf("no credentials registered for provider %s user %s", provider, userID)
}

var _ AccountSource = (*StaticAccountSource)(nil)
