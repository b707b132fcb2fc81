package xiaomi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
)

const (
	fitnessDataPath = "/app/v1/data/get_fitness_data_by_time"
	ecoProxyPath    = "/app/v1/eco/api_proxy"
	homeScalePath   = "/eco/scale/getData"
	regionScalePath = "/eco/common/scale/getUserDataByPage"

	modelHeader = "MIOT-REQUEST-MODEL"
)

// fitnessPage is one page of get_fitness_data_by_time.
type fitnessPage struct {
	DataList []struct {
		Sid        string `json:"sid"`
		Key        string `json:"key"`
		Time       int64  `json:"time"`
		Value      string `json:"value"`
		ZoneOffset int    `json:"zone_offset"`
		UpdateTime int64  `json:"update_time"`
		ZoneName   string `json:"zone_name,omitempty"`
	} `json:"data_list"`
	HasMore bool   `json:"has_more"`
	NextKey string `json:"next_key"`
}

// GetAllWeights returns every weight record of the account from the main
// Mi Fitness region.
func (c *Client) GetAllWeights(ctx context.Context) ([]*core.Weight, error) {
	return c.getAllWeights(ctx, "")
}

func (c *Client) getAllWeights(ctx context.Context, region string) ([]*core.Weight, error) {
	var weights []*core.Weight

	end := c.now().Add(24 * time.Hour).Unix()
	params := fmt.Sprintf(`{"start_time":1,"end_time":%d,"key":"weight"}`, end)
	seen := map[string]struct{}{}

	for {
		data, err := c.Request(ctx, c.endpoints.Fitness(region), fitnessDataPath, params, nil)
		if err != nil {
			return nil, err
		}
		metrics.RecordVendorPage(vendor, "next_key")

		var page fitnessPage
		if err = json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("xiaomi: decode fitness page: %w", err)
		}

		for _, rec := range page.DataList {
			if rec.Key != "weight" {
				continue
			}

			var v fitnessValue
			if err = json.Unmarshal([]byte(rec.Value), &v); err != nil {
				return nil, fmt.Errorf("xiaomi: decode fitness value: %w", err)
			}

			weights = append(weights, v.weight(rec.Sid, rec.Time))
			metrics.RecordNormalized(vendor, "fitness")
		}

		if !page.HasMore {
			break
		}

		if _, ok := seen[page.NextKey]; ok || page.NextKey == "" {
			return nil, ErrPaginationStalled
		}
		seen[page.NextKey] = struct{}{}

		params = fmt.Sprintf(`{"start_time":1,"end_time":%d,"key":"weight","next_key":%q}`, end, page.NextKey)
	}

	c.logger.Debug(ctx, "fitness weights fetched", logger.Int("count", len(weights)))

	return weights, nil
}

// GetFilterWeights treats filter as a region when it names one and returns
// GetAllWeights for that region. Otherwise filter is a scale model and the
// records are read through the eco proxy of the main region.
func (c *Client) GetFilterWeights(ctx context.Context, filter string) ([]*core.Weight, error) {
	if MiFitnessURL(filter) != "" {
		return c.getAllWeights(ctx, filter)
	}

	return c.walkScalePages(ctx, "eco_proxy", func(ctx context.Context, ts int64) ([]byte, error) {
		inner := fmt.Sprintf(
			`{"param":{"endTime":1,"beginTime":%d},"model":"%s","uid":%d,"did":0}`,
			ts, filter, c.session.userID,
		)
		params := fmt.Sprintf(`{"eco_api":"eco/scale/getData","params":%q}`, inner)

		data, err := c.Request(ctx, c.endpoints.Fitness(""), ecoProxyPath, params, nil)
		if err != nil {
			return nil, err
		}
		res, err := readProxyResponse(data)
		return res, c.checkSession(ctx, err)
	})
}

// GetModelWeights reads the records of a scale model directly from the
// Mi Home API of region.
func (c *Client) GetModelWeights(ctx context.Context, region, model string) ([]*core.Weight, error) {
	headers := map[string]string{modelHeader: model}

	switch region {
	case "", "cn":
		return c.walkScalePages(ctx, "region_page", func(ctx context.Context, ts int64) ([]byte, error) {
			params := fmt.Sprintf(
				`{"param":{"endTime":1,"beginTime":%d},"model":"%s","uid":%d,"did":0}`,
				ts, model, c.session.userID,
			)
			return c.Request(ctx, c.endpoints.Home(""), homeScalePath, params, headers)
		})
	case "de", "i2", "ru", "sg", "us":
		return c.walkScalePages(ctx, "region_page", func(ctx context.Context, ts int64) ([]byte, error) {
			params := fmt.Sprintf(
				`{"endTime":1,"beginTime":%d,"model":"%s","uid":"%d","did":0,"accountId":0}`,
				ts, model, c.session.userID,
			)
			return c.Request(ctx, c.endpoints.Home(region), regionScalePath, params, headers)
		})
	}

	return nil, &regionError{region: region}
}

// walkScalePages pages backwards in time from now until a short page. Each
// server cursor must be older than the previous one. The first cursor is not
// compared with the local clock, which may lag the server.
func (c *Client) walkScalePages(
	ctx context.Context, contract string, fetch func(ctx context.Context, ts int64) ([]byte, error),
) ([]*core.Weight, error) {
	var weights []*core.Weight

	for ts, page := c.now().UnixMilli(), 0; ts > 0; page++ {
		data, err := fetch(ctx, ts)
		if err != nil {
			return nil, err
		}
		metrics.RecordVendorPage(vendor, contract)

		next, err := unmarshalScaleData(data, &weights)
		if err != nil {
			return nil, err
		}
		if page > 0 && next >= ts {
			return nil, ErrPaginationStalled
		}
		ts = next
	}

	c.logger.Debug(ctx, "scale weights fetched", logger.String("contract", contract), logger.Int("count", len(weights)))

	return weights, nil
}

// readProxyResponse unwraps the {"resp": "<json>"} envelope of the eco proxy.
func readProxyResponse(data []byte) ([]byte, error) {
	var outer struct {
		Resp string `json:"resp"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("xiaomi: decode proxy response: %w", err)
	}

	var inner envelope
	if err := json.Unmarshal([]byte(outer.Resp), &inner); err != nil {
		return nil, fmt.Errorf("xiaomi: decode proxy envelope: %w", err)
	}

	if inner.Code != 0 {
		return nil, &APIError{Code: inner.Code, Message: inner.Message}
	}

	return inner.Result, nil
}
