package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"perpguard/internal/models"
	"perpguard/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"

	// Лимит position/list - 10 req/sec на UID
	bybitRateLimit = 10
	bybitBurst     = 20

	// position/list: максимум 200 строк на страницу
	bybitPositionPageLimit = "200"
	bybitMaxPositionPages  = 50
)

// BybitConfig - параметры доступа к Bybit API v5
type BybitConfig struct {
	BaseURL    string // пусто - production
	APIKey     string
	SecretKey  string
	SettleCoin string // пусто - USDT
}

// Bybit - источник позиций linear-фьючерсов Bybit (только чтение)
type Bybit struct {
	baseURL    string
	apiKey     string
	secretKey  string
	settleCoin string
	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	now        func() time.Time
}

// NewBybit создаёт клиент. httpClient == nil - клиент с настройками по умолчанию.
func NewBybit(cfg BybitConfig, httpClient *http.Client) *Bybit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = bybitBaseURL
	}
	if cfg.SettleCoin == "" {
		cfg.SettleCoin = "USDT"
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &Bybit{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		settleCoin: cfg.SettleCoin,
		httpClient: httpClient,
		limiter:    ratelimit.NewRateLimiter(bybitRateLimit, bybitBurst),
		now:        time.Now,
	}
}

// GetName возвращает имя биржи
func (b *Bybit) GetName() string {
	return "bybit"
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doGet выполняет GET запрос к Bybit API и проверяет retCode
func (b *Bybit) doGet(ctx context.Context, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	rawQuery := query.Encode()

	reqURL := b.baseURL + endpoint
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(b.now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, rawQuery))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, fmt.Errorf("bybit: failed to decode response: %w", err)
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

// GetOpenPositions получает открытые позиции linear-фьючерсов.
// position/list отдаёт страницы по limit строк, обходим их по nextPageCursor.
func (b *Bybit) GetOpenPositions(ctx context.Context) ([]*models.VenuePosition, error) {
	positions := make([]*models.VenuePosition, 0)
	cursor := ""

	for page := 0; ; page++ {
		if page >= bybitMaxPositionPages {
			return nil, fmt.Errorf("bybit: position list exceeds %d pages", bybitMaxPositionPages)
		}

		params := map[string]string{
			"category":   "linear",
			"settleCoin": b.settleCoin,
			"limit":      bybitPositionPageLimit,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		body, err := b.doGet(ctx, "/v5/position/list", params, true)
		if err != nil {
			return nil, err
		}

		var resp struct {
			Result struct {
				List []struct {
					Symbol        string `json:"symbol"`
					Side          string `json:"side"`
					Size          string `json:"size"`
					AvgPrice      string `json:"avgPrice"`
					UnrealisedPnl string `json:"unrealisedPnl"`
				} `json:"list"`
				NextPageCursor string `json:"nextPageCursor"`
			} `json:"result"`
		}

		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("bybit: failed to decode positions: %w", err)
		}

		for _, p := range resp.Result.List {
			// Нечитаемый размер нельзя принять за нулевую позицию
			size, err := strconv.ParseFloat(p.Size, 64)
			if err != nil {
				return nil, fmt.Errorf("bybit: invalid size %q for %s: %w", p.Size, p.Symbol, err)
			}
			if size == 0 {
				continue
			}

			price, err := strconv.ParseFloat(p.AvgPrice, 64)
			if err != nil {
				return nil, fmt.Errorf("bybit: invalid avgPrice %q for %s: %w", p.AvgPrice, p.Symbol, err)
			}
			pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)

			side := models.PositionLong
			if p.Side == "Sell" {
				side = models.PositionShort
			}

			positions = append(positions, &models.VenuePosition{
				Symbol:        p.Symbol,
				Side:          side,
				Quantity:      size,
				Price:         price,
				UnrealizedPnl: pnl,
			})
		}

		next := resp.Result.NextPageCursor
		if next == "" || next == cursor {
			return positions, nil
		}
		cursor = next
	}
}

// Ping проверяет доступность публичного API (время сервера)
func (b *Bybit) Ping(ctx context.Context) error {
	_, err := b.doGet(ctx, "/v5/market/time", nil, false)
	return err
}
