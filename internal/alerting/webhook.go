package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// WebhookNotifier 以签名的 JSON POST 投递告警
type WebhookNotifier struct {
	Endpoint string
	APIKey   string
	Secret   string
	Client   *http.Client
	Retries  int
	Backoff  []time.Duration
}

// NewWebhookNotifier 创建 webhook 投递器
func NewWebhookNotifier(endpoint, apiKey, secret string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Secret:   secret,
		Client:   &http.Client{Timeout: timeout},
		Retries:  2,
		Backoff:  []time.Duration{500 * time.Millisecond, 2 * time.Second},
	}
}

// SignHMAC 生成 HMAC-SHA256 签名（hex）
func SignHMAC(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonical 签名原文：METHOD\nPATH\nTS\nNONCE\nSHA256(body)
func Canonical(method, path string, ts int64, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	return method + "\n" + path + "\n" + strconv.FormatInt(ts, 10) + "\n" + nonce + "\n" + hex.EncodeToString(sum[:])
}

// Notify 发送告警；仅对网络错误与 5xx 重试
func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	if w == nil || w.Client == nil {
		return errors.New("nil webhook notifier")
	}
	u, err := url.Parse(w.Endpoint)
	if err != nil {
		return err
	}
	body, err := json.Marshal(alertPayload{Type: AlertEvent, Alert: a})
	if err != nil {
		return err
	}

	ts := time.Now().Unix()
	nonce := fmt.Sprintf("%08x", rand.Uint32())
	sig := SignHMAC(w.Secret, Canonical(http.MethodPost, u.Path, ts, nonce, body))

	var lastErr error
	for attempt := 0; attempt <= w.Retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", w.APIKey)
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Nonce", nonce)

		resp, err := w.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return nil
			case resp.StatusCode < 500:
				return fmt.Errorf("webhook rejected alert: http %d", resp.StatusCode)
			}
			lastErr = fmt.Errorf("webhook http %d", resp.StatusCode)
		}
		if attempt == w.Retries || len(w.Backoff) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Backoff[min(attempt, len(w.Backoff)-1)]):
		}
	}
	return lastErr
}
