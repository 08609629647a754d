package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

// RestClient covers the exchange's quotation REST endpoints. The websocket
// feed falls back to it when a frame carries zero values.
type RestClient struct {
	baseURL string
	client  *http.Client
}

func NewRestClient(baseURL string) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

type marketEntry struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// Markets lists every tradable pair for the catalog bootstrap.
func (c *RestClient) Markets(ctx context.Context) ([]port.Asset, error) {
	var entries []marketEntry
	if err := c.get(ctx, "/market/all", &entries); err != nil {
		return nil, err
	}

	assets := make([]port.Asset, 0, len(entries))
	for _, e := range entries {
		if e.Market == "" {
			continue
		}
		assets = append(assets, port.Asset{
			Symbol:      e.Market,
			KoreanName:  e.KoreanName,
			EnglishName: e.EnglishName,
			Category:    domain.MarketCrypto.String(),
		})
	}
	return assets, nil
}

type tickerEntry struct {
	Market           string      `json:"market"`
	TradePrice       json.Number `json:"trade_price"`
	SignedChangeRate json.Number `json:"signed_change_rate"`
	HighPrice        json.Number `json:"high_price"`
	LowPrice         json.Number `json:"low_price"`
}

// Ticker fetches the current snapshot quote for one pair.
func (c *RestClient) Ticker(ctx context.Context, code string) (domain.Tick, error) {
	var entries []tickerEntry
	if err := c.get(ctx, "/ticker?markets="+url.QueryEscape(code), &entries); err != nil {
		return domain.Tick{}, err
	}
	if len(entries) == 0 {
		return domain.Tick{}, fmt.Errorf("ticker %s: empty response", code)
	}

	e := entries[0]
	return domain.Tick{
		Symbol:     code,
		Price:      domain.ParseDecimal(e.TradePrice.String()),
		ChangeRate: domain.ParseDecimal(e.SignedChangeRate.String()),
		High:       domain.ParseDecimal(e.HighPrice.String()),
		Low:        domain.ParseDecimal(e.LowPrice.String()),
		Ts:         time.Now().UnixMilli(),
	}, nil
}

func (c *RestClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
