package picooc

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/scaleconnect/pkg/metrics"
)

const (
	appVer    = "i4.1.11.0"
	loginPath = "account/login"
)

type loginRequest struct {
	AppVer    string `json:"appver"`
	Timestamp string `json:"timestamp"`
	Lang      string `json:"lang"`
	Method    string `json:"method"`
	Timezone  string `json:"timezone"`
	Sign      string `json:"sign"`
	PushToken string `json:"push_token"`
	DeviceID  string `json:"device_id"`
	Req       struct {
		AppChannel  string `json:"app_channel"`
		AppVer      string `json:"app_version"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		Phone       string `json:"phone"`
		PhoneSystem string `json:"phone_system"`
		PhoneType   string `json:"phone_type"`
	} `json:"req"`
}

type loginResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Resp struct {
		UserID string `json:"user_id"`
		RoleID string `json:"role_id"`
		Roles  []struct {
			RoleID   string `json:"role_id"`
			RoleName string `json:"role_name"`
		} `json:"roles"`
	} `json:"resp"`
}

// Login signs in with an email and password and learns the family roles of
// the account.
func (c *Client) Login(ctx context.Context, username, password string) (err error) {
	defer func() { metrics.RecordLogin(vendor, "password", err) }()

	form := c.values("user_login_new")

	var body loginRequest
	body.AppVer = form.Get("appver")
	body.Timestamp = form.Get("timestamp")
	body.Lang = form.Get("lang")
	body.Method = form.Get("method")
	body.Sign = form.Get("sign")
	body.PushToken = form.Get("push_token")
	body.DeviceID = form.Get("device_id")
	body.Req.AppVer = form.Get("appver")
	body.Req.Email = username
	body.Req.Password = password

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	form.Set("reqData", string(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(loginPath), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res loginResponse
	if err = c.do(req, loginPath, &res); err != nil {
		return err
	}
	if res.Code != 0 {
		return &APIError{Code: res.Code, Message: "login error: " + res.Msg}
	}
	if res.Resp.UserID == "" {
		return &APIError{Message: "login error: no user id"}
	}

	c.userID = res.Resp.UserID
	c.roleIDs = map[string]string{"": res.Resp.RoleID}
	for _, role := range res.Resp.Roles {
		c.roleIDs[role.RoleName] = role.RoleID
	}

	return nil
}

// values returns the common signed parameters of method. The device id is
// generated once per client.
func (c *Client) values(method string) url.Values {
	if c.deviceID == "" {
		c.deviceID = strings.ToUpper(uuid.NewString())
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	return url.Values{
		"appver":     {appVer},
		"timestamp":  {timestamp},
		"lang":       {"en"},
		"method":     {method},
		"timezone":   {""},
		"sign":       {Sign(c.deviceID, timestamp, method)},
		"push_token": {"android::" + c.deviceID},
		"device_id":  {c.deviceID},
	}
}

// Sign is MD5(deviceID + MD5(timestamp + MD5(method) + MD5(appver))), every
// digest in upper-case hex.
func Sign(deviceID, timestamp, method string) string {
	return upperMD5(deviceID + upperMD5(timestamp+upperMD5(method)+upperMD5(appVer)))
}

func upperMD5(s string) string {
	return fmt.Sprintf("%X", md5.Sum([]byte(s)))
}
