// Package notifier は外部チャットサービスへの通知を提供する。
package notifier

import (
	"context"
	"errors"
	"net/http"

	"github.com/slack-go/slack"
)

// Notifier はチャットユーザーへのメッセージ配信のインターフェース。
type Notifier interface {
	// OpenChannel はユーザーとのダイレクトメッセージチャンネルを開き、そのIDを返す。
	OpenChannel(ctx context.Context, externalIdentityID string) (string, error)
	// SendLink はチャンネル内の指定ユーザーにだけ見えるリンク付きメッセージを送る。
	SendLink(ctx context.Context, channelID, externalIdentityID, text, linkText string) error
	// NotifySuccess はユーザーのダイレクトメッセージに完了通知を送る。
	NotifySuccess(ctx context.Context, externalIdentityID, text string) error
}

// SlackConfig はSlackNotifierの設定。
type SlackConfig struct {
	BotToken string
	// APIURL はテスト用にオーバーライドするWeb APIのベースURL（末尾は"/"）。
	APIURL     string
	HTTPClient *http.Client
}

// SlackNotifier はSlack Web APIによるNotifier実装。
type SlackNotifier struct {
	client *slack.Client
}

// NewSlackNotifier はSlackNotifierを生成する。
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	var options []slack.Option
	if config.HTTPClient != nil {
		options = append(options, slack.OptionHTTPClient(config.HTTPClient))
	}
	if config.APIURL != "" {
		options = append(options, slack.OptionAPIURL(config.APIURL))
	}
	return &SlackNotifier{client: slack.New(config.BotToken, options...)}
}

// OpenChannel はconversations.openでDMチャンネルを開く。
func (n *SlackNotifier) OpenChannel(ctx context.Context, externalIdentityID string) (string, error) {
	channel, _, _, err := n.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{externalIdentityID},
	})
	if err != nil {
		return "", err
	}
	if channel == nil || channel.ID == "" {
		return "", errors.New("conversations.open returned no channel")
	}
	return channel.ID, nil
}

// SendLink はchat.postEphemeralでリンクを送る。linkTextは添付として表示する。
func (n *SlackNotifier) SendLink(ctx context.Context, channelID, externalIdentityID, text, linkText string) error {
	_, err := n.client.PostEphemeralContext(ctx, channelID, externalIdentityID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAttachments(slack.Attachment{Text: linkText}),
	)
	return err
}

// NotifySuccess はDMチャンネルを開いてchat.postMessageで通知する。
func (n *SlackNotifier) NotifySuccess(ctx context.Context, externalIdentityID, text string) error {
	channelID, err := n.OpenChannel(ctx, externalIdentityID)
	if err != nil {
		return err
	}
	_, _, err = n.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionAttachments(slack.Attachment{Text: text}),
	)
	return err
}

// compile-time interface check
var _ Notifier = (*SlackNotifier)(nil)
