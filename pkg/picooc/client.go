// Package picooc reads body measurements from the Picooc cloud. Requests are
// plain REST calls signed with a chain of upper-case MD5 digests.
package picooc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
)

const (
	vendor         = "picooc"
	defaultBaseURL = "https://api2.picooc-int.com/v1/api/"
	defaultTimeout = time.Minute

	listPath = "bodyIndex/bodyIndexList"
	pageSize = 1000
)

// Sentinel errors returned by the client.
var (
	ErrNotAuthenticated  = errors.New("picooc: not authenticated")
	ErrUnknownUser       = errors.New("picooc: unknown user")
	ErrPaginationStalled = errors.New("picooc: pagination cursor did not advance")
)

// APIError is a response with a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return "picooc: " + e.Message
}

// Client talks to the Picooc cloud on behalf of one account. Like the other
// vendor clients it is not safe for concurrent use.
type Client struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
	logger  logger.Logger

	deviceID string
	userID   string
	// roleIDs maps the role name to its id; "" is the account owner.
	roleIDs map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithBaseURL overrides the API root. It must end with a slash.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithClock sets the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger enables debug logging of requests.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates an unauthenticated client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
		now:     time.Now,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticated reports whether Login succeeded.
func (c *Client) Authenticated() bool {
	return c.userID != ""
}

// GetAllWeights returns the measurements of the account owner.
func (c *Client) GetAllWeights(ctx context.Context) ([]*core.Weight, error) {
	return c.GetFilterWeights(ctx, "")
}

// bodyIndexPage is one page of bodyIndexList.
type bodyIndexPage struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Resp struct {
		Records []struct {
			BodyTime         int64   `json:"bodyTime"`
			BodyFat          float32 `json:"body_fat"`
			Weight           float32 `json:"weight"`
			BMI              float32 `json:"bmi"`
			VisceralFatLevel int     `json:"visceral_fat_level"`
			BodyAge          int     `json:"body_age"`
			BoneMass         float32 `json:"bone_mass"`
			BasicMetabolism  int     `json:"basic_metabolism"`
			WaterRace        float32 `json:"water_race"`
			SkeletalMuscle   float32 `json:"skeletal_muscle"`
			IsDel            int     `json:"is_del"`
			AbnormalFlag     int     `json:"abnormal_flag"`
			MAC              string  `json:"mac"`
		} `json:"records"`
		LastTime int64 `json:"lastTime"`
		Continue bool  `json:"continue"`
	} `json:"resp"`
}

// GetFilterWeights returns the measurements of the family member called
// name. The empty name is the account owner.
func (c *Client) GetFilterWeights(ctx context.Context, name string) ([]*core.Weight, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	roleID, ok := c.roleIDs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}

	params := c.values("bodyIndexList")
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("time", params.Get("timestamp"))
	params.Set("userId", c.userID)
	params.Set("roleId", roleID)

	var weights []*core.Weight

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(listPath)+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page bodyIndexPage
		if err = c.do(req, listPath, &page); err != nil {
			return nil, err
		}
		if page.Code != 0 {
			return nil, &APIError{Code: page.Code, Message: page.Msg}
		}
		metrics.RecordVendorPage(vendor, "last_time")

		for _, r := range page.Resp.Records {
			if r.AbnormalFlag != 0 || r.IsDel != 0 {
				metrics.RecordSkipped(vendor, "abnormal")
				continue
			}

			weights = append(weights, &core.Weight{
				Date:   time.Unix(r.BodyTime, 0),
				Weight: r.Weight,

				BMI:       r.BMI,
				BodyFat:   r.BodyFat,
				BodyWater: r.WaterRace,
				BoneMass:  r.BoneMass,

				MetabolicAge: r.BodyAge,
				VisceralFat:  r.VisceralFatLevel,

				BasalMetabolism:    r.BasicMetabolism,
				SkeletalMuscleMass: r.SkeletalMuscle,

				User:   name,
				Source: r.MAC,
			})
			metrics.RecordNormalized(vendor, "body_index")
		}

		if !page.Resp.Continue {
			break
		}

		next := strconv.FormatInt(page.Resp.LastTime, 10)
		if next == params.Get("time") {
			return nil, ErrPaginationStalled
		}
		params.Set("time", next)
	}

	c.logger.Debug(ctx, "picooc weights fetched", logger.String("user", name), logger.Int("count", len(weights)))

	return weights, nil
}

// do sends req and decodes the JSON body into v.
func (c *Client) do(req *http.Request, path string, v any) error {
	start := time.Now()
	res, err := c.client.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordVendorRequest(vendor, path, "error", latency)
		return err
	}
	defer res.Body.Close()

	metrics.RecordVendorRequest(vendor, path, res.Status, latency)
	c.logger.Debug(req.Context(), "vendor request", logger.String("path", path), logger.String("status", res.Status))

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("picooc: %s: %s", path, res.Status)
	}

	if err = json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("picooc: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}
