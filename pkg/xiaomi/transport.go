package xiaomi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
)

const defaultRetryBase = 500 * time.Millisecond

// RetryPolicy decides how a failed API round trip is repeated. Every attempt
// is signed with a fresh nonce.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts. Values below 2 disable retries.
	MaxAttempts int
	// Backoff builds the delay sequence for one request. Defaults to
	// exponential from 500ms.
	Backoff func() retry.Backoff
	// Retryable reports whether an error is worth another attempt. Defaults
	// to IsRetryable.
	Retryable func(error) bool
}

// NoRetry performs every request exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// ExponentialRetry retries transient failures with exponential backoff from
// base, capped at maxDelay.
func ExponentialRetry(attempts int, base, maxDelay time.Duration) RetryPolicy {
	if base <= 0 {
		base = defaultRetryBase
	}
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff: func() retry.Backoff {
			b := retry.NewExponential(base)
			if maxDelay > 0 {
				b = retry.WithCappedDuration(maxDelay, b)
			}
			return b
		},
		Retryable: IsRetryable,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	var b retry.Backoff
	if p.Backoff != nil {
		b = p.Backoff()
	} else {
		b = retry.NewExponential(defaultRetryBase)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// envelope is the decrypted API response.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Request sends params (a JSON document) to baseURL+apiPath as a signed,
// encrypted form and returns the raw result of the decrypted envelope.
func (c *Client) Request(ctx context.Context, baseURL, apiPath, params string, headers map[string]string) ([]byte, error) {
	if !c.session.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	if c.retry.MaxAttempts < 2 {
		return c.roundTrip(ctx, baseURL, apiPath, params, headers)
	}

	var result []byte
	attempt := 0
	err := retry.Do(ctx, c.retry.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.RecordVendorRetry(vendor, apiPath)
			c.logger.Debug(ctx, "retrying request", logger.String("path", apiPath), logger.Int("attempt", attempt))
		}

		res, err := c.roundTrip(ctx, baseURL, apiPath, params, headers)
		if err != nil {
			if c.retry.retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) roundTrip(ctx context.Context, baseURL, apiPath, params string, headers map[string]string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	nonce := genNonce(c.now())
	signedNonce := GenSignedNonce(c.session.ssecurity, nonce)

	form, err := signForm(apiPath, params, nonce, signedNonce)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+apiPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", c.session.cookies)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	res, err := c.client.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordVendorRequest(vendor, apiPath, "error", latency)
		return nil, err
	}
	defer res.Body.Close()

	metrics.RecordVendorRequest(vendor, apiPath, res.Status, latency)
	c.logger.Debug(ctx, "vendor request", logger.String("path", apiPath), logger.String("status", res.Status))

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, c.checkSession(ctx, &StatusError{StatusCode: res.StatusCode, Status: res.Status})
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	result, err := openEnvelope(body, signedNonce)
	if err != nil {
		return nil, c.checkSession(ctx, err)
	}
	return result, nil
}

// checkSession drops the session when err says the vendor rejected it and
// returns err unchanged.
func (c *Client) checkSession(ctx context.Context, err error) error {
	if err != nil && IsSessionExpired(err) && c.session.Authenticated() {
		c.logger.Info(ctx, "session expired", logger.Error(err))
		c.session.Reset()
	}
	return err
}

// signForm builds the encrypted form: rc4_hash__ over the plaintext, every
// value encrypted, signature over the ciphertext, then the raw nonce.
func signForm(apiPath, params string, nonce, signedNonce []byte) (url.Values, error) {
	form := url.Values{"data": {params}}

	form.Set("rc4_hash__", GenSignature64(http.MethodPost, apiPath, form, signedNonce))

	for _, v := range form {
		ciphertext, err := Crypt(signedNonce, []byte(v[0]))
		if err != nil {
			return nil, err
		}
		v[0] = base64.StdEncoding.EncodeToString(ciphertext)
	}

	form.Set("signature", GenSignature64(http.MethodPost, apiPath, form, signedNonce))
	form.Set("_nonce", base64.StdEncoding.EncodeToString(nonce))

	return form, nil
}

func openEnvelope(body, signedNonce []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, fmt.Errorf("xiaomi: decode response: %w", err)
	}

	plaintext, err := Crypt(signedNonce, ciphertext)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err = json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("xiaomi: decode envelope: %w", err)
	}

	if env.Code != 0 {
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}

	return env.Result, nil
}
