package xiaomi

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/metrics"
)

const (
	loginPrefix    = "&&&START&&&"
	oauthMaxHops   = 2
	deviceIDLength = 16
	deviceIDBase   = 62
)

// loginChallenge is the anti-replay blob returned by serviceLogin.
type loginChallenge struct {
	Qs       string `json:"qs"`
	Sign     string `json:"_sign"`
	Sid      string `json:"sid"`
	Callback string `json:"callback"`
}

// loginGrant carries the session secrets returned after authentication.
type loginGrant struct {
	Ssecurity []byte `json:"ssecurity"`
	PassToken string `json:"passToken"`
	UserID    int64  `json:"userId"`
	Location  string `json:"location"`
}

// Login runs the three-step password login. On any failure the session is
// left unauthenticated.
func (c *Client) Login(ctx context.Context, username, password string) (err error) {
	defer func() { metrics.RecordLogin(vendor, "password", err) }()

	c.session.Reset()

	challenge, err := c.serviceLogin(ctx)
	if err != nil {
		return err
	}

	grant, err := c.serviceLoginAuth(ctx, challenge, username, password)
	if err != nil {
		return err
	}

	return c.finishLogin(ctx, grant)
}

// LoginWithToken resumes a session from a "userID:passToken" string produced
// by Token.
func (c *Client) LoginWithToken(ctx context.Context, token string) (err error) {
	defer func() { metrics.RecordLogin(vendor, "token", err) }()

	c.session.Reset()

	userID, passToken, ok := strings.Cut(token, ":")
	if !ok || userID == "" || passToken == "" {
		return ErrMalformedToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceLoginURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", fmt.Sprintf("userId=%s; passToken=%s", userID, passToken))

	var grant loginGrant
	if err = c.doLogin(req, &grant); err != nil {
		return err
	}

	return c.finishLogin(ctx, &grant)
}

// OAuth2 authorizes a third-party application: params is the query string of
// the authorize URL. It returns the authorization code from the final
// redirect. The session is populated when the SSO response carries the
// session secrets.
func (c *Client) OAuth2(ctx context.Context, params, username, password string) (code string, err error) {
	defer func() { metrics.RecordLogin(vendor, "oauth2", err) }()

	c.session.Reset()

	challenge, err := c.oauth2Authorize(ctx, params)
	if err != nil {
		return "", err
	}

	grant, err := c.serviceLoginAuth(ctx, challenge, username, password)
	if err != nil {
		return "", err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", err
	}
	hops := &http.Client{
		Transport: c.client.Transport,
		Timeout:   c.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) == oauthMaxHops {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, grant.Location, nil)
	if err != nil {
		return "", err
	}
	res, err := hops.Do(req)
	if err != nil {
		return "", err
	}
	_ = res.Body.Close()

	if err = c.session.establish(grant.UserID, grant.Ssecurity, grant.PassToken, ""); err != nil {
		c.logger.Debug(ctx, "oauth2 grant without session secrets")
	}

	return authorizationCode(res.Header.Get("Location"))
}

func authorizationCode(location string) (string, error) {
	if location == "" {
		return "", ErrMissingRedirect
	}
	if u, err := url.Parse(location); err == nil {
		if code := u.Query().Get("code"); code != "" {
			return code, nil
		}
	}
	_, code, _ := strings.Cut(location, "=")
	return code, nil
}

func (c *Client) serviceLoginURL() string {
	return c.endpoints.Account + "/pass/serviceLogin?_json=true&sid=" + url.QueryEscape(c.session.sid)
}

func (c *Client) serviceLogin(ctx context.Context) (*loginChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceLoginURL(), nil)
	if err != nil {
		return nil, err
	}

	var challenge loginChallenge
	if err = c.doLogin(req, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (c *Client) oauth2Authorize(ctx context.Context, params string) (*loginChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Account+"/oauth2/authorize?"+params, nil)
	if err != nil {
		return nil, err
	}

	var page struct {
		Data struct {
			OauthLoginURL string `json:"oauthLoginUrl"`
		} `json:"data"`
	}
	if err = c.doLogin(req, &page); err != nil {
		return nil, err
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, page.Data.OauthLoginURL, nil)
	if err != nil {
		return nil, err
	}

	var challenge loginChallenge
	if err = c.doLogin(req, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (c *Client) serviceLoginAuth(ctx context.Context, ch *loginChallenge, username, password string) (*loginGrant, error) {
	form := url.Values{
		"_json":    {"true"},
		"hash":     {fmt.Sprintf("%X", md5.Sum([]byte(password)))},
		"sid":      {ch.Sid},
		"callback": {ch.Callback},
		"_sign":    {ch.Sign},
		"qs":       {ch.Qs},
		"user":     {username},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoints.Account+"/pass/serviceLoginAuth2", strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", "deviceId="+core.RandString(deviceIDLength, deviceIDBase))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var grant loginGrant
	if err = c.doLogin(req, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// finishLogin follows the grant location, collects the service cookies and
// commits the session.
func (c *Client) finishLogin(ctx context.Context, grant *loginGrant) error {
	if grant.Location == "" {
		return ErrIncompleteSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, grant.Location, nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return c.session.establish(grant.UserID, grant.Ssecurity, grant.PassToken, joinCookies(res.Header.Values("Set-Cookie")))
}

// doLogin sends an SSO request and decodes the framed JSON body into v.
func (c *Client) doLogin(req *http.Request, v any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}

	body, err := readLoginResponse(res)
	if err != nil {
		return err
	}

	if err = json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("xiaomi: decode login response: %w", err)
	}
	return nil
}

// readLoginResponse strips the &&&START&&& frame of an SSO response body.
func readLoginResponse(res *http.Response) ([]byte, error) {
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(body, []byte(loginPrefix)) {
		return nil, ErrWrongLoginPrefix
	}

	return body[len(loginPrefix):], nil
}
