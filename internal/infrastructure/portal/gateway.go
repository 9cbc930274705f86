package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	// maxReceiptSize limits the acknowledgment body kept on the attempt
	maxReceiptSize = 1 << 20
	ordersPath     = "/orders"
)

// receiptBody is the portal's acknowledgment of an outbound order
type receiptBody struct {
	Reference string `json:"reference"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HTTPGateway implements procurement.PortalGateway over HTTPS
type HTTPGateway struct {
	baseURL    string
	keys       *Keyring
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPGateway creates a gateway from the portal configuration
func NewHTTPGateway(cfg config.PortalConfig, keys *Keyring, logger *zap.Logger) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("portal: base url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		keys:    keys,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

// Sign serializes the snapshot and signs it with the supplier's key.
// The timestamp is the snapshot's issue time in unix seconds.
func (g *HTTPGateway) Sign(snapshot procurement.OrderSnapshot) (*procurement.SignedMessage, error) {
	key, err := g.keys.Key(snapshot.SupplierRef)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("portal: failed to marshal snapshot: %w", err)
	}
	ts := strconv.FormatInt(snapshot.IssuedAt.Unix(), 10)
	return &procurement.SignedMessage{
		SupplierRef:   snapshot.SupplierRef,
		CorrelationID: snapshot.CorrelationID,
		MessageID:     snapshot.MessageID(),
		Timestamp:     ts,
		Signature:     Sign(key, ts, body),
		Body:          body,
	}, nil
}

// Send posts a signed message to the portal
func (g *HTTPGateway) Send(ctx context.Context, msg *procurement.SignedMessage) (*procurement.PortalReceipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+ordersPath, bytes.NewReader(msg.Body))
	if err != nil {
		return nil, fmt.Errorf("portal: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderSignature, msg.Signature)
	req.Header.Set(HeaderTimestamp, msg.Timestamp)
	req.Header.Set(HeaderSupplier, msg.SupplierRef)
	req.Header.Set(HeaderMessageID, msg.MessageID)
	req.Header.Set(HeaderCorrelationID, msg.CorrelationID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortalUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReceiptSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrPortalUnavailable, err)
	}
	receipt := &procurement.PortalReceipt{StatusCode: resp.StatusCode, Raw: raw}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Debug("portal rejected delivery",
			zap.String("correlation_id", msg.CorrelationID),
			zap.Int("status_code", resp.StatusCode),
		)
		return receipt, fmt.Errorf("%w: HTTP %d", ErrPortalRejected, resp.StatusCode)
	}

	var ack receiptBody
	if err := json.Unmarshal(raw, &ack); err != nil {
		return receipt, fmt.Errorf("%w: unreadable acknowledgment: %v", ErrPortalRejected, err)
	}
	if ack.Reference == "" {
		return receipt, fmt.Errorf("%w: acknowledgment without reference", ErrPortalRejected)
	}
	receipt.Reference = ack.Reference
	return receipt, nil
}

var _ procurement.PortalGateway = (*HTTPGateway)(nil)
