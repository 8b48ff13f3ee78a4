package release

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/model"
)

// fireWebhooks 并发触发流上配置的全部回调
//
// 回调彼此独立, 互不等待; 回调失败只记录日志, 不影响发布结果。
// 响应体原样落库供 UI 排障。
func (p *Pipeline) fireWebhooks(ctx context.Context, flowID int64) {
	hooks, err := p.webhooks.ListByFlow(flowID)
	if err != nil {
		p.logger.Error("加载流回调失败", zap.Int64("flow_id", flowID), zap.Error(err))
		return
	}

	for _, hook := range hooks {
		hook := hook
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			p.fireWebhook(ctx, hook)
		}()
	}
}

func (p *Pipeline) fireWebhook(ctx context.Context, hook *model.WebHook) {
	log := p.logger.With(zap.Int64("webhook_id", hook.ID), zap.String("url", hook.URL))

	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if hook.Payload != "" {
		body = strings.NewReader(hook.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, hook.URL, body)
	if err != nil {
		log.Error("构造回调请求失败", zap.Error(err))
		return
	}
	if hook.ContentType != "" {
		req.Header.Set("Content-Type", hook.ContentType)
	}

	resp, err := p.httpClient().Do(req)
	if err != nil {
		log.Error("回调请求失败", zap.Error(err))
		if err := p.webhooks.SetLastResponse(hook.ID, err.Error()); err != nil {
			log.Error("记录回调响应失败", zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("读取回调响应失败", zap.Error(err))
		return
	}
	if err := p.webhooks.SetLastResponse(hook.ID, string(data)); err != nil {
		log.Error("记录回调响应失败", zap.Error(err))
	}
}

func (p *Pipeline) httpClient() *http.Client {
	if p.client != nil {
		return p.client
	}
	return &http.Client{Timeout: 10 * time.Second}
}
