package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotifyBuildStart     NotificationType = "build_start"     // 构建开始
	NotifyBuildSuccess   NotificationType = "build_success"   // 构建成功
	NotifyBuildFailed    NotificationType = "build_failed"    // 构建失败
	NotifyReleaseCreate  NotificationType = "release_create"  // 发布创建/排期
	NotifyReleaseStart   NotificationType = "release_start"   // 发布开始
	NotifyStreamPush     NotificationType = "stream_push"     // 包流推送
	NotifyDeployStart    NotificationType = "deploy_start"    // 目标部署开始
	NotifyDeploySuccess  NotificationType = "deploy_success"  // 目标部署成功
	NotifyDeployFailed   NotificationType = "deploy_failed"   // 目标部署失败
	NotifySignoffRequest NotificationType = "signoff_request" // 签核请求
)

// Message 通知消息
type Message struct {
	Type    NotificationType `json:"type"`
	Text    string           `json:"text"`
	Channel string           `json:"channel,omitempty"` // 项目级频道覆写
}

// Notifier 通知器接口, 仅做投递, 核心不关心传输
type Notifier interface {
	// Send 发送通知
	Send(ctx context.Context, msg *Message) error
}

// ============= Slack 通知适配器 =============

// SlackNotifier Slack incoming-webhook 通知器
type SlackNotifier struct {
	host    string
	token   string
	channel string
	enabled bool
	logger  *zap.Logger
	client  *http.Client

	// 覆写投递地址, 测试使用
	endpoint string
}

// NewSlackNotifier 创建Slack通知器
func NewSlackNotifier(host, token, channel string, enabled bool, timeout time.Duration, logger *zap.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		host:    host,
		token:   token,
		channel: channel,
		enabled: enabled,
		logger:  logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send 发送通知
func (n *SlackNotifier) Send(ctx context.Context, msg *Message) error {
	if !n.enabled {
		n.logger.Debug("通知已禁用,跳过发送")
		return nil
	}

	if n.host == "" || n.token == "" {
		n.logger.Warn("Slack通知未配置")
		return nil
	}

	channel := msg.Channel
	if channel == "" {
		channel = n.channel
	}

	payload, err := json.Marshal(n.buildSlackPayload(channel, msg))
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	form := url.Values{}
	form.Set("payload", string(payload))

	endpoint := n.endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s/services/hooks/incoming-webhook?token=%s", n.host, n.token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack API返回错误状态码: %d", resp.StatusCode)
	}

	n.logger.Info("Slack通知发送成功",
		zap.String("type", string(msg.Type)),
		zap.String("channel", channel))

	return nil
}

// buildSlackPayload 构建Slack消息格式
func (n *SlackNotifier) buildSlackPayload(channel string, msg *Message) map[string]interface{} {
	return map[string]interface{}{
		"channel":    channel,
		"username":   "sideloader",
		"icon_emoji": ":greenrocket:",
		"attachments": []interface{}{
			map[string]interface{}{
				"fallback": msg.Text,
				"pretext":  msg.Text,
				"color":    colorFor(msg.Type),
				"fields":   []interface{}{},
			},
		},
	}
}

func colorFor(t NotificationType) string {
	switch t {
	case NotifyBuildSuccess, NotifyDeploySuccess:
		return "good"
	case NotifyBuildFailed, NotifyDeployFailed:
		return "danger"
	default:
		return "#0000D0"
	}
}

// ============= 多通知器 =============

// MultiNotifier 多通知器(支持同时发送到多个渠道)
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMultiNotifier 创建多通知器
func NewMultiNotifier(logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger,
	}
}

// Send 发送到所有通知器
func (m *MultiNotifier) Send(ctx context.Context, msg *Message) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, msg); err != nil {
			m.logger.Error("发送通知失败", zap.Error(err))
			lastErr = err
			// 继续发送其他通知器
		}
	}
	return lastErr
}

// ============= 日志通知器(仅记录日志,不发送实际通知) =============

// LogNotifier 日志通知器
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger,
	}
}

// Send 记录通知到日志
func (n *LogNotifier) Send(ctx context.Context, msg *Message) error {
	n.logger.Info("📢 通知",
		zap.String("type", string(msg.Type)),
		zap.String("text", msg.Text),
		zap.String("channel", msg.Channel))
	return nil
}
