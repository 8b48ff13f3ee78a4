package agent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response 代理响应, 至少包含 stdout/stderr, 可选 code/error
type Response struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed 按协议约定判定失败: 显式error字段、非零code、或有stderr且无stdout
func (r *Response) Failed() bool {
	if r.Error != "" {
		return true
	}
	if r.Code != 0 {
		return true
	}
	if r.Stderr != "" && r.Stdout == "" {
		return true
	}
	return false
}

// CombinedOutput stdout与stderr拼接, 记录目标日志使用
func (r *Response) CombinedOutput() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Option 客户端可选配置
type Option func(*Client)

// WithBaseURL 覆写目标地址, 测试使用
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithInsecureTLS 跳过证书校验, 测试与自签代理使用
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// Client 部署代理客户端
//
// 每个已知操作一个显式方法, 自行构造路径与签名, 不做动态分发。
type Client struct {
	baseURL string
	auth    string
	key     []byte
	client  *http.Client
}

// NewClient 创建代理客户端
func NewClient(host string, port int, auth, key string, timeout time.Duration, opts ...Option) *Client {
	if port == 0 {
		port = 2400
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: fmt.Sprintf("https://%s:%d", host, port),
		auth:    auth,
		key:     []byte(key),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign 计算请求签名: base64(HMAC-SHA1(key, token\nMETHOD\n/path[\nsha1hex(body)]))
func (c *Client) Sign(method, path string, body []byte) string {
	sign := [][]byte{[]byte(c.auth), []byte(method), []byte("/" + path)}
	if len(body) > 0 {
		digest := sha1.Sum(body)
		sign = append(sign, []byte(fmt.Sprintf("%x", digest)))
	}

	mac := hmac.New(sha1.New, c.key)
	mac.Write(bytes.Join(sign, []byte("\n")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) request(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("创建代理请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", c.auth)
	req.Header.Set("sig", c.Sign(method, path, body))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("代理请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取代理响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("代理返回错误状态码 %d: %s", resp.StatusCode, string(data))
	}

	var result Response
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析代理响应失败: %w", err)
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string) (*Response, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化代理请求失败: %w", err)
	}
	return c.request(ctx, http.MethodPost, path, body)
}

// StopAll 停止目标上的全部受管服务
func (c *Client) StopAll(ctx context.Context) (*Response, error) {
	return c.get(ctx, "all/stop")
}

// StartAll 启动目标上的全部受管服务
func (c *Client) StartAll(ctx context.Context) (*Response, error) {
	return c.get(ctx, "all/start")
}

// RestartAll 重启目标上的全部受管服务
func (c *Client) RestartAll(ctx context.Context) (*Response, error) {
	return c.get(ctx, "all/restart")
}

// InstallPackage 在目标上安装指定包
func (c *Client) InstallPackage(ctx context.Context, pkg, url string) (*Response, error) {
	return c.post(ctx, "install", map[string]string{
		"package": pkg,
		"url":     url,
	})
}

// RunPuppet 触发目标上的配置管理运行
func (c *Client) RunPuppet(ctx context.Context) (*Response, error) {
	return c.get(ctx, "puppet/run")
}

// Status 查询代理状态, 可达性探测使用
func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.get(ctx, "status")
}
