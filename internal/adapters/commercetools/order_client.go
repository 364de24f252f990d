// Package commercetools creates orders on the commercetools HTTP API.
package commercetools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	gwerrors "github.com/kevin07696/payment-reconciler/pkg/errors"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
)

// Config holds commercetools project credentials
type Config struct {
	APIURL       string // e.g. https://api.europe-west1.gcp.commercetools.com
	AuthURL      string // e.g. https://auth.europe-west1.gcp.commercetools.com
	ProjectKey   string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// OrderClient implements ports.OrderCreator. The order number is the payment
// id, so a second create for the same payment finds the existing order
// instead of creating another one.
type OrderClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

var _ ports.OrderCreator = (*OrderClient)(nil)

// NewOrderClient creates a client whose requests carry client-credentials
// tokens. base supplies the transport; tokens are fetched through it too.
func NewOrderClient(cfg Config, base *http.Client, logger *zap.Logger) *OrderClient {
	if base == nil {
		base = http.DefaultClient
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.AuthURL, "/") + "/oauth/token",
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := &http.Client{
		Transport: &oauth2.Transport{
			Source: cc.TokenSource(tokenCtx),
			Base:   base.Transport,
		},
		Timeout: base.Timeout,
	}

	return &OrderClient{cfg: cfg, http: authed, logger: logger}
}

type cartResponse struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

type resourceIdentifier struct {
	ID     string `json:"id"`
	TypeID string `json:"typeId"`
}

type orderFromCartDraft struct {
	Cart          resourceIdentifier `json:"cart"`
	Version       int64              `json:"version"`
	OrderNumber   string             `json:"orderNumber"`
	OrderState    string             `json:"orderState"`
	ShipmentState string             `json:"shipmentState"`
	PaymentState  string             `json:"paymentState"`
}

type orderResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
}

type apiErrorItem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Errors     []apiErrorItem `json:"errors"`
}

func (e *apiError) hasCode(code string) bool {
	for _, item := range e.Errors {
		if item.Code == code {
			return true
		}
	}
	return false
}

// CreateOrder turns the cart into an Open, Paid order numbered by paymentReference
func (c *OrderClient) CreateOrder(ctx context.Context, cartID, paymentReference string) (string, error) {
	orderID, err := c.createOrder(ctx, cartID, paymentReference)
	if err != nil {
		c.logger.Warn("Order creation failed",
			zap.String("cart_id", cartID),
			zap.String("payment_reference", paymentReference),
			zap.Error(err),
		)
		return "", err
	}

	c.logger.Info("Order created",
		zap.String("cart_id", cartID),
		zap.String("order_id", orderID),
	)
	return orderID, nil
}

func (c *OrderClient) createOrder(ctx context.Context, cartID, paymentReference string) (string, error) {
	if existing, err := c.findOrder(ctx, paymentReference); err != nil || existing != "" {
		return existing, err
	}

	var cart cartResponse
	if err := c.do(ctx, "get_cart", http.MethodGet, "/carts/"+url.PathEscape(cartID), nil, &cart); err != nil {
		return "", fmt.Errorf("get cart %s: %w", cartID, err)
	}

	draft := orderFromCartDraft{
		Cart:          resourceIdentifier{ID: cart.ID, TypeID: "cart"},
		Version:       cart.Version,
		OrderNumber:   paymentReference,
		OrderState:    "Open",
		ShipmentState: "Pending",
		PaymentState:  "Paid",
	}

	var order orderResponse
	err := c.do(ctx, "create_order", http.MethodPost, "/orders", draft, &order)
	if err == nil {
		return order.ID, nil
	}

	// A concurrent create for the same payment won the order number
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.hasCode("DuplicateField") {
		if existing, findErr := c.findOrder(ctx, paymentReference); findErr == nil && existing != "" {
			return existing, nil
		}
	}
	return "", fmt.Errorf("create order for cart %s: %w", cartID, err)
}

// findOrder returns the id of the order numbered orderNumber, or "" if none
func (c *OrderClient) findOrder(ctx context.Context, orderNumber string) (string, error) {
	var order orderResponse
	err := c.do(ctx, "find_order", http.MethodGet, "/orders/order-number="+url.PathEscape(orderNumber), nil, &order)

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find order %s: %w", orderNumber, err)
	}
	return order.ID, nil
}

func (c *OrderClient) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/" + c.cfg.ProjectKey + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordCommerceCall(operation, "network_error", time.Since(start).Seconds())
		return gwerrors.NewGatewayError("network_error", err.Error(), gwerrors.CategoryNetworkError, true)
	}
	defer resp.Body.Close()
	observability.RecordCommerceCall(operation, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(payload, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func (e *apiError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("commercetools %d %s: %s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("commercetools %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("commercetools %d", e.StatusCode)
}
