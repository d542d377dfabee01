// Package association はチャットアイデンティティとアカウントの関連付けフローを提供する。
//
// フローは BeginAssociation でワンタイムリンクを発行してDMで届け、
// ユーザーがリンクからOAuth認可を完了すると HandleCallback が
// トークンを交換してアカウントを登録する。リンクは一度しか完了できない。
package association

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/xnatbot/internal/auth"
	"github.com/hitoshi/xnatbot/internal/httpclient"
	"github.com/hitoshi/xnatbot/internal/metrics"
	"github.com/hitoshi/xnatbot/internal/model"
	"github.com/hitoshi/xnatbot/internal/notifier"
	"github.com/hitoshi/xnatbot/internal/repository"
)

const (
	upstreamSlack = "Slack"
	upstreamOAuth = "OAuth provider"
)

// Config はCoordinatorの設定。
type Config struct {
	BaseURL         string        // 公開URL（例: https://bot.example.com）
	AssociationPath string        // リンクのパス（例: /associate）
	AppName         string        // メッセージに表示するアプリ名
	CommandName     string        // 完了通知に表示するコマンド名
	LinkTTL         time.Duration // リンクの有効期間。0以下で無期限
	UpstreamTimeout time.Duration // 外部呼び出し1回あたりのタイムアウト
}

// Coordinator は関連付けリンクの発行・検証・完了を行う。
type Coordinator struct {
	links    repository.AssociationLinkRepository
	accounts repository.AccountRepository
	notifier notifier.Notifier
	provider auth.OAuthProvider
	metrics  metrics.MetricsCollector
	config   Config
	now      func() time.Time
}

// NewCoordinator はCoordinatorを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewCoordinator(
	links repository.AssociationLinkRepository,
	accounts repository.AccountRepository,
	n notifier.Notifier,
	provider auth.OAuthProvider,
	collector metrics.MetricsCollector,
	config Config,
) *Coordinator {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Coordinator{
		links:    links,
		accounts: accounts,
		notifier: n,
		provider: provider,
		metrics:  collector,
		config:   config,
		now:      time.Now,
	}
}

// BeginAssociation はワンタイムリンクを発行し、ユーザーのDMチャンネルに本人だけが見える形で送る。
// リンクの保存と送信は並行して行う。失敗時はAssociationBeginFailedを返す。
func (c *Coordinator) BeginAssociation(ctx context.Context, externalIdentityID string) (string, error) {
	if strings.TrimSpace(externalIdentityID) == "" {
		return "", c.beginFailed(errors.New("external identity ID is required"))
	}

	ref, err := generateRef()
	if err != nil {
		return "", c.beginFailed(fmt.Errorf("failed to generate ref: %w", err))
	}

	var channelID string
	err = c.callUpstream(ctx, upstreamSlack, func(ctx context.Context) error {
		var err error
		channelID, err = c.notifier.OpenChannel(ctx, externalIdentityID)
		return err
	})
	if err != nil {
		return "", c.beginFailed(err)
	}

	linkURL, err := c.linkURL(ref)
	if err != nil {
		return "", c.beginFailed(err)
	}

	link := &model.AssociationLink{
		Ref:                ref,
		ExternalIdentityID: externalIdentityID,
		DeliveryChannelID:  channelID,
		CreatedAt:          c.now(),
	}

	var (
		g      errgroup.Group
		stored bool
	)
	g.Go(func() error {
		if err := c.links.Put(ctx, link); err != nil {
			return err
		}
		stored = true
		return nil
	})
	g.Go(func() error {
		return c.callUpstream(ctx, upstreamSlack, func(ctx context.Context) error {
			return c.notifier.SendLink(ctx, channelID, externalIdentityID,
				fmt.Sprintf("Please log in to %s.", c.config.AppName),
				fmt.Sprintf("<%s|Click here> to introduce yourself to me by authenticating.", linkURL),
			)
		})
	})

	if err := g.Wait(); err != nil {
		if stored {
			// 届かなかったリンクは使用済みにして完了できないようにする
			if _, claimErr := c.links.MarkUsed(context.WithoutCancel(ctx), ref); claimErr != nil {
				slog.Error("failed to invalidate undelivered association link",
					slog.String("external_identity_id", externalIdentityID),
					slog.String("error", claimErr.Error()),
				)
			}
		}
		return "", c.beginFailed(err)
	}

	c.metrics.RecordAssociationBegun()
	slog.Info("association link sent",
		slog.String("external_identity_id", externalIdentityID),
		slog.String("channel_id", channelID),
	)
	return ref, nil
}

// ValidateAssociation はrefのリンクが完了可能かを検証して返す。
func (c *Coordinator) ValidateAssociation(ctx context.Context, ref string) (*model.AssociationLink, error) {
	if ref == "" {
		return nil, model.NewInvalidAssociationLinkError()
	}

	link, err := c.links.Get(ctx, ref)
	if err != nil {
		if model.HasCode(err, model.ErrCodeAssociationLinkNotFound) {
			return nil, model.NewInvalidAssociationLinkError()
		}
		return nil, err
	}

	if link.Used || link.ExpiredAt(c.now(), c.config.LinkTTL) {
		return nil, model.NewAssociationLinkExpiredError()
	}
	return link, nil
}

// AuthorizationURL はリンクを検証し、refをstateとするプロバイダーの認可URLを返す。
func (c *Coordinator) AuthorizationURL(ctx context.Context, ref string) (string, error) {
	if _, err := c.ValidateAssociation(ctx, ref); err != nil {
		return "", err
	}
	return c.provider.AuthCodeURL(ref), nil
}

// CompleteAssociation はリンクを使用済みにしてアカウントを登録する。
// 同じrefに対する同時呼び出しのうち成功するのは1つだけで、残りはAssociationLinkExpiredになる。
// 登録に失敗した場合はリンクを未使用に戻す。完了通知の失敗はログに記録するのみ。
func (c *Coordinator) CompleteAssociation(ctx context.Context, ref, accessToken string) (*model.Account, error) {
	link, err := c.ValidateAssociation(ctx, ref)
	if err != nil {
		return nil, err
	}

	claimed, err := c.links.MarkUsed(ctx, ref)
	if err != nil {
		c.metrics.RecordAssociationFailure("complete")
		return nil, err
	}
	if !claimed {
		return nil, model.NewAssociationLinkExpiredError()
	}

	account, err := c.accounts.Register(ctx, model.RegisterParams{
		ExternalIdentityID: link.ExternalIdentityID,
		AccessToken:        accessToken,
	})
	if err != nil {
		if releaseErr := c.links.ReleaseClaim(context.WithoutCancel(ctx), ref); releaseErr != nil {
			slog.Error("failed to release association link",
				slog.String("external_identity_id", link.ExternalIdentityID),
				slog.String("error", releaseErr.Error()),
			)
		}
		c.metrics.RecordAssociationFailure("complete")
		return nil, err
	}

	text := fmt.Sprintf("Congratulation! :tada::tada: You can use %s command now!", c.config.CommandName)
	err = c.callUpstream(ctx, upstreamSlack, func(ctx context.Context) error {
		return c.notifier.NotifySuccess(ctx, link.ExternalIdentityID, text)
	})
	if err != nil {
		slog.Warn("failed to send association success message",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	c.metrics.RecordAssociationCompleted()
	slog.Info("association completed",
		slog.String("account_id", account.ID),
		slog.String("external_identity_id", link.ExternalIdentityID),
	)
	return account, nil
}

// HandleCallback はOAuthコールバックを処理する。stateはリンクのref。
// トークン交換に失敗した場合、リンクは未使用のまま残る。
func (c *Coordinator) HandleCallback(ctx context.Context, code, state string) (*model.Account, error) {
	if _, err := c.ValidateAssociation(ctx, state); err != nil {
		return nil, err
	}

	var accessToken string
	err := c.callUpstream(ctx, upstreamOAuth, func(ctx context.Context) error {
		var err error
		accessToken, err = c.provider.Exchange(ctx, code)
		return err
	})
	if err != nil {
		c.metrics.RecordAssociationFailure("exchange")
		return nil, err
	}

	return c.CompleteAssociation(ctx, state, accessToken)
}

// callUpstream は外部呼び出しをタイムアウト付きで実行し、レイテンシと失敗を記録する。
func (c *Coordinator) callUpstream(ctx context.Context, upstream string, fn func(context.Context) error) error {
	start := time.Now()
	err := httpclient.Call(ctx, c.config.UpstreamTimeout, upstream, fn)
	label := strings.ToLower(strings.Fields(upstream)[0])
	c.metrics.RecordUpstreamLatency(label, time.Since(start))
	if err != nil {
		kind := "error"
		if model.HasCode(err, model.ErrCodeUpstreamTimeout) {
			kind = "timeout"
		}
		c.metrics.RecordUpstreamError(label, kind)
	}
	return err
}

func (c *Coordinator) beginFailed(cause error) error {
	c.metrics.RecordAssociationFailure("begin")
	return model.NewAssociationBeginFailedError(cause)
}

// linkURL は BaseURL + AssociationPath + ?ref=<ref> を組み立てる。
func (c *Coordinator) linkURL(ref string) (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath(c.config.AssociationPath)
	u.RawQuery = url.Values{"ref": {ref}}.Encode()
	return u.String(), nil
}

// generateRef は推測不能なリンク参照を生成する。
func generateRef() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
