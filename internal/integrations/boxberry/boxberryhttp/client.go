package boxberryhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/cache"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/integrations/boxberry"
	"github.com/oblivorne/boxberry.ru-parcel-bot/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client

	// cache — опционально (может быть nil): ответы городов/тарифов,
	// не статусы — статус всегда спрашиваем у вендора напрямую.
	cache    cache.BytesCache
	cacheTTL time.Duration
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.boxberry.ru"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) WithCache(bc cache.BytesCache, ttl time.Duration) *Client {
	if bc != nil && ttl > 0 {
		c.cache = bc
		c.cacheTTL = ttl
	}
	return c
}

// apiError — формат ошибки Boxberry API: {"err": "описание"}.
type apiError struct {
	Err string `json:"err"`
}

type statusEntry struct {
	Date    string `json:"Date"`
	Name    string `json:"Name"`
	Comment string `json:"Comment"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/json.php"

	q := u.Query()
	q.Set("token", c.token)
	q.Set("method", method)
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("boxberry http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	// API отдаёт 200 и {"err": ...} при ошибке метода.
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Err != "" {
		return nil, fmt.Errorf("boxberry api: %s", ae.Err)
	}

	return body, nil
}

func (c *Client) FetchStatus(ctx context.Context, trackingNumber string) (boxberry.StatusSnapshot, error) {
	if trackingNumber == "" {
		return boxberry.StatusSnapshot{}, errors.New("tracking number is empty")
	}

	body, err := c.call(ctx, "ListStatusesFull", url.Values{"ImOrderNumber": {trackingNumber}})
	if err != nil {
		return boxberry.StatusSnapshot{}, err
	}

	var entries []statusEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return boxberry.StatusSnapshot{}, errors.Wrap(err, "decode statuses")
	}

	now := time.Now().UTC()

	// Пустой список — вендор не знает такой номер. Это успешный ответ
	// с выделенным статусом, а не ошибка.
	if len(entries) == 0 {
		return boxberry.StatusSnapshot{
			Status:    models.StatusUnknown,
			Raw:       body,
			FetchedAt: now,
		}, nil
	}

	// Текущий статус — последняя запись истории.
	status := strings.TrimSpace(entries[len(entries)-1].Name)

	return boxberry.StatusSnapshot{
		Status:    status,
		Raw:       body,
		FetchedAt: now,
	}, nil
}

type cityEntry struct {
	Code string `json:"Code"`
	Name string `json:"Name"`
}

func (c *Client) ListCities(ctx context.Context, query string) ([]boxberry.City, error) {
	const cacheKey = "boxberry:cities"

	var body []byte
	if c.cache != nil {
		if b, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
			body = b
		}
	}

	if body == nil {
		b, err := c.call(ctx, "ListCitiesFull", url.Values{"CountryCode": {"643"}})
		if err != nil {
			return nil, err
		}
		body = b
		if c.cache != nil {
			_ = c.cache.Set(ctx, cacheKey, body, c.cacheTTL)
		}
	}

	var entries []cityEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, "decode cities")
	}

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]boxberry.City, 0, 16)
	for _, e := range entries {
		if q != "" && !strings.Contains(strings.ToLower(e.Name), q) {
			continue
		}
		out = append(out, boxberry.City{Code: e.Code, Name: e.Name})
	}
	return out, nil
}

type costResp struct {
	Price        json.Number `json:"price"`
	DeliveryDays int         `json:"delivery_period"`
}

func (c *Client) DeliveryCosts(ctx context.Context, req boxberry.DeliveryCostRequest) (boxberry.DeliveryCost, error) {
	if req.TargetCityCode == "" {
		return boxberry.DeliveryCost{}, errors.New("target city code is required")
	}
	if req.WeightGrams <= 0 {
		return boxberry.DeliveryCost{}, errors.New("weight must be positive")
	}

	params := url.Values{
		"target":   {req.TargetCityCode},
		"weight":   {strconv.Itoa(req.WeightGrams)},
		"ordersum": {strconv.FormatFloat(req.OrderSum, 'f', 2, 64)},
	}

	cacheKey := "boxberry:cost:" + req.TargetCityCode + ":" + strconv.Itoa(req.WeightGrams)
	var body []byte
	if c.cache != nil {
		if b, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
			body = b
		}
	}

	if body == nil {
		b, err := c.call(ctx, "DeliveryCosts", params)
		if err != nil {
			return boxberry.DeliveryCost{}, err
		}
		body = b
		if c.cache != nil {
			_ = c.cache.Set(ctx, cacheKey, body, c.cacheTTL)
		}
	}

	var cr costResp
	if err := json.Unmarshal(body, &cr); err != nil {
		return boxberry.DeliveryCost{}, errors.Wrap(err, "decode costs")
	}

	price, err := cr.Price.Float64()
	if err != nil {
		return boxberry.DeliveryCost{}, errors.Wrap(err, "parse price")
	}

	return boxberry.DeliveryCost{
		Price:        price,
		DeliveryDays: cr.DeliveryDays,
	}, nil
}
