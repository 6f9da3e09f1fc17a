package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"monitor-backend/internal/domain"
)

const DefaultBaseURL = "https://api.broker.example.com"

// Client handles authenticated broker API requests. Every request carries a
// millisecond timestamp and an HMAC-SHA256 signature over the query string.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// APIError captures structured error info returned by the broker.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "broker API error"
	}
	if e.Code != 0 || e.Message != "" {
		return fmt.Sprintf("broker API error %d (code=%d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker API error %d: %s", e.StatusCode, e.Body)
}

// authErrorCodes are the broker error codes that mean the key or session is
// no longer accepted, as opposed to a malformed or throttled request.
var authErrorCodes = map[int]bool{
	-1022: true, // signature mismatch
	-2014: true, // API key format invalid
	-2015: true, // invalid key, IP, or permissions
}

// IsAuthError reports whether this error means the credentials themselves
// were rejected.
func (e *APIError) IsAuthError() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	return authErrorCodes[e.Code]
}

func parseAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != 0 || parsed.Msg != "") {
		return &APIError{StatusCode: statusCode, Code: parsed.Code, Message: parsed.Msg, Body: string(body)}
	}
	return &APIError{StatusCode: statusCode, Body: string(body)}
}

// NewClient creates a new authenticated broker client.
func NewClient(apiKey, secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Profile is the minimal account document used as a session check.
type Profile struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

// GetProfile fetches the account profile. The cheapest authenticated call
// the broker offers, so it doubles as the session probe.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/profile", nil)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// TestConnection tests if API credentials are valid.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.GetProfile(ctx)
	return err
}

// OrderRequest describes a new order to place with the broker.
type OrderRequest struct {
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	OrderType   string
	ProductType string
}

// OrderConfirmation is the broker's acknowledgement of an order operation.
type OrderConfirmation struct {
	OrderID     string  `json:"orderId"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	ExecutedQty float64 `json:"executedQty"`
	AvgPrice    float64 `json:"avgPrice"`
}

// PlaceOrder places a new order.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderConfirmation, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.OrderType)
	params.Set("quantity", fmt.Sprintf("%.8f", req.Quantity))

	if req.ProductType != "" {
		params.Set("productType", req.ProductType)
	}
	if req.OrderType == "LIMIT" && req.Price > 0 {
		params.Set("price", fmt.Sprintf("%.8f", req.Price))
		params.Set("timeInForce", "GTC")
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseConfirmation(body)
}

// ModifyOrder replaces price and/or quantity on a resting order. The broker
// assigns a fresh order id on modification; the confirmation carries it.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, price, quantity float64) (*OrderConfirmation, error) {
	params := url.Values{}
	params.Set("orderId", orderID)
	if price > 0 {
		params.Set("price", fmt.Sprintf("%.8f", price))
	}
	if quantity > 0 {
		params.Set("quantity", fmt.Sprintf("%.8f", quantity))
	}

	body, err := c.signedRequest(ctx, http.MethodPut, "/api/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseConfirmation(body)
}

// CancelOrder cancels an existing order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("orderId", orderID)

	_, err := c.signedRequest(ctx, http.MethodDelete, "/api/v1/order", params)
	return err
}

func parseConfirmation(body []byte) (*OrderConfirmation, error) {
	var raw struct {
		OrderID     string `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	executedQty, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(raw.AvgPrice, 64)

	return &OrderConfirmation{
		OrderID:     raw.OrderID,
		Symbol:      raw.Symbol,
		Status:      raw.Status,
		ExecutedQty: executedQty,
		AvgPrice:    avgPrice,
	}, nil
}

// signedRequest makes a signed API request and returns the response body.
func (c *Client) signedRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params.Set("timestamp", timestamp)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	fullURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// sign creates HMAC SHA256 signature.
func (c *Client) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Prober adapts the client to per-credential session checks.
type Prober struct {
	baseURL string
}

func NewProber(baseURL string) *Prober {
	return &Prober{baseURL: baseURL}
}

// CheckSession builds a one-shot client for the credential and hits the
// profile endpoint. The returned error carries IsAuthError when the broker
// rejected the key itself.
func (p *Prober) CheckSession(ctx context.Context, cred *domain.BrokerCredentials) error {
	client := NewClient(cred.APIKey, cred.SecretKey, p.baseURL)
	return client.TestConnection(ctx)
}
