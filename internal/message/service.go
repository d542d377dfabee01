// Package message は共有メッセージリソースとスラッシュコマンドのディスパッチを提供する。
package message

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/xnatbot/internal/httpclient"
	"github.com/hitoshi/xnatbot/internal/metrics"
	"github.com/hitoshi/xnatbot/internal/model"
	"github.com/hitoshi/xnatbot/internal/repository"
)

const (
	messageKey = "MESSAGE"

	// DefaultMessage は初回アクセス時に設定されるメッセージ。
	DefaultMessage = "Hello World"

	logoutSucceeded      = "Good bye!:smiley:"
	logoutFailed         = "Failed to log out."
	projectsFetchFailed  = "Failed to fetch projects."
	upstreamXNAT         = "XNAT"
	upstreamMetricsLabel = "xnat"
)

// サブコマンド
const (
	CommandHelp     = "help"
	CommandLogout   = "logout"
	CommandProject  = "project"
	CommandProjects = "projects"
)

// Authorizer は資格情報の認可判定のインターフェース。
type Authorizer interface {
	Authorize(ctx context.Context, cred model.Credential) bool
}

// ProjectLister はXNATのプロジェクト一覧取得のインターフェース。
type ProjectLister interface {
	ListProjects(ctx context.Context, accessToken string) ([]string, error)
}

// Config はServiceの設定。
type Config struct {
	DefaultMessage  string
	CommandName     string
	UpstreamTimeout time.Duration
}

// Service は共有メッセージの読み書きとコマンド処理を行う。
// すべての操作は最初に認可ゲートを通す。
type Service struct {
	gate     Authorizer
	messages repository.MessageRepository
	accounts repository.AccountRepository
	projects ProjectLister
	metrics  metrics.MetricsCollector
	config   Config
}

// NewService はServiceを生成する。
func NewService(
	gate Authorizer,
	messages repository.MessageRepository,
	accounts repository.AccountRepository,
	projects ProjectLister,
	collector metrics.MetricsCollector,
	config Config,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if config.DefaultMessage == "" {
		config.DefaultMessage = DefaultMessage
	}
	if config.CommandName == "" {
		config.CommandName = "/xnat"
	}
	return &Service{
		gate:     gate,
		messages: messages,
		accounts: accounts,
		projects: projects,
		metrics:  collector,
		config:   config,
	}
}

// GetMessage は共有メッセージを返す。未設定の場合はデフォルト値で初期化する。
func (s *Service) GetMessage(ctx context.Context, cred model.Credential) (string, error) {
	if !s.gate.Authorize(ctx, cred) {
		return "", model.NewNotAuthorizedError()
	}

	value, found, err := s.messages.Get(ctx, messageKey)
	if err != nil {
		return "", err
	}
	if found {
		return value, nil
	}
	// 読み取り後に書き込まれた値は上書きしない
	return s.messages.PutIfAbsent(ctx, messageKey, s.config.DefaultMessage)
}

// SetMessage は共有メッセージを保存し、保存した値を返す。
func (s *Service) SetMessage(ctx context.Context, value string, cred model.Credential) (string, error) {
	if !s.gate.Authorize(ctx, cred) {
		return "", model.NewNotAuthorizedError()
	}
	if err := s.messages.Put(ctx, messageKey, value); err != nil {
		return "", err
	}
	return value, nil
}

// Process はコマンドテキストを解釈して応答テキストを返す。
// 空のテキストはhelpとして扱い、不明なサブコマンドはInvalidCommandを返す。
func (s *Service) Process(ctx context.Context, text string, cred model.Credential) (string, error) {
	if !s.gate.Authorize(ctx, cred) {
		return "", model.NewNotAuthorizedError()
	}

	subcommand := CommandHelp
	if args := strings.Fields(text); len(args) > 0 {
		subcommand = args[0]
	}

	switch subcommand {
	case CommandHelp:
		s.metrics.RecordCommand(CommandHelp)
		return s.help(), nil
	case CommandLogout:
		s.metrics.RecordCommand(CommandLogout)
		return s.logout(ctx, cred), nil
	case CommandProject, CommandProjects:
		s.metrics.RecordCommand(CommandProjects)
		return s.listProjects(ctx, cred), nil
	default:
		s.metrics.RecordCommand("invalid")
		return "", model.NewInvalidCommandError(subcommand)
	}
}

func (s *Service) help() string {
	return fmt.Sprintf(`
*Available commands*
  _%[1]s help_ : Show help message
  _%[1]s logout_ : Log out
  _%[1]s projects_ : Show project
`, s.config.CommandName)
}

// logout は呼び出し元のアカウントを削除する。失敗は応答テキストで表し、エラーは返さない。
func (s *Service) logout(ctx context.Context, cred model.Credential) string {
	accountCred, ok := accountCredential(cred)
	if !ok {
		return logoutFailed
	}
	if err := s.accounts.Delete(ctx, accountCred.ID); err != nil {
		slog.Error("failed to delete account",
			slog.String("account_id", accountCred.ID),
			slog.String("error", err.Error()),
		)
		return logoutFailed
	}
	slog.Info("account logged out", slog.String("account_id", accountCred.ID))
	return logoutSucceeded
}

// listProjects はXNATのプロジェクト一覧を整形する。
// 外部エラーの内容はログにのみ記録し、応答は固定文言にする。
func (s *Service) listProjects(ctx context.Context, cred model.Credential) string {
	var accessToken string
	if accountCred, ok := accountCredential(cred); ok {
		accessToken = accountCred.AccessToken
	}

	var projects []string
	start := time.Now()
	err := httpclient.Call(ctx, s.config.UpstreamTimeout, upstreamXNAT, func(ctx context.Context) error {
		var err error
		projects, err = s.projects.ListProjects(ctx, accessToken)
		return err
	})
	s.metrics.RecordUpstreamLatency(upstreamMetricsLabel, time.Since(start))
	if err != nil {
		kind := "error"
		if model.HasCode(err, model.ErrCodeUpstreamTimeout) {
			kind = "timeout"
		}
		s.metrics.RecordUpstreamError(upstreamMetricsLabel, kind)
		slog.Warn("failed to fetch projects", slog.String("error", err.Error()))
		return projectsFetchFailed
	}

	return FormatProjects(projects)
}

// FormatProjects はプロジェクト一覧を1行1件で並べ、末尾に件数を付ける。
func FormatProjects(projects []string) string {
	var b strings.Builder
	if len(projects) > 0 {
		b.WriteString(strings.Join(projects, "\n"))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "*%d projects* found.", len(projects))
	return b.String()
}

func accountCredential(cred model.Credential) (model.AccountCredential, bool) {
	switch c := cred.(type) {
	case model.AccountCredential:
		return c, true
	case *model.AccountCredential:
		if c != nil {
			return *c, true
		}
	}
	return model.AccountCredential{}, false
}
