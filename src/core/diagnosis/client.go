package diagnosis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"afiyahmed-client-go/src/core/utils"
)

// predictPath 诊断服务的固定接口路径
const predictPath = "/predict_json"

// Client 诊断服务HTTP客户端
// 单次提交只发起一次POST请求，任何结果都不重试
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *utils.Logger
}

// NewClient 创建诊断服务客户端，timeout为固定的客户端超时时间
func NewClient(baseURL string, timeout time.Duration, logger *utils.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Send 发送诊断请求并把原始结果分类为ClientOutcome
// 分类顺序：超时 > 连接失败 > 200成功 > 非200错误 > 未知失败
func (c *Client) Send(ctx context.Context, request *DiagnosisRequest) ClientOutcome {
	url := c.baseURL + predictPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(request.WireBody))
	if err != nil {
		return ClientOutcome{
			Kind:   OutcomeUnknownFailure,
			Detail: fmt.Sprintf("创建请求失败: %v", err),
		}
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("发送诊断请求 %v", map[string]interface{}{
		"url":       url,
		"body_size": len(request.WireBody),
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClientOutcome{
			Kind:   OutcomeUnknownFailure,
			Detail: fmt.Sprintf("读取响应失败: %v", err),
		}
	}

	c.logger.Debug("收到诊断响应 %v", map[string]interface{}{
		"status_code": resp.StatusCode,
		"body_size":   len(body),
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})

	if resp.StatusCode == http.StatusOK {
		return ClientOutcome{
			Kind:       OutcomeHTTPSuccess,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return ClientOutcome{
		Kind:       OutcomeHTTPError,
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}

// classifyTransportError 把传输层错误分类为超时/连接失败/未知失败
func (c *Client) classifyTransportError(err error, elapsed time.Duration) ClientOutcome {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		c.logger.Warn("诊断请求超时 %v", map[string]interface{}{
			"elapsed_ms": elapsed.Milliseconds(),
		})
		return ClientOutcome{
			Kind:   OutcomeTimedOut,
			Detail: "请求超时，服务端长时间未响应",
		}
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		c.logger.Warn("诊断服务连接失败 %v", map[string]interface{}{
			"error": err.Error(),
		})
		return ClientOutcome{
			Kind:   OutcomeConnectivityFailure,
			Detail: "无法连接诊断服务，请检查网络",
		}
	}

	c.logger.Error("诊断请求发生未知错误", err)
	return ClientOutcome{
		Kind:   OutcomeUnknownFailure,
		Detail: err.Error(),
	}
}
