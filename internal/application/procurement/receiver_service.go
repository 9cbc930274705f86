package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAcceptanceWindow bounds the skew between the signed timestamp and the engine clock
const DefaultAcceptanceWindow = 5 * time.Minute

// inboundEnvelope is the JSON body of an inbound portal message
type inboundEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	MessageID     string          `json:"message_id"`
	Kind          string          `json:"kind"`
	Remarks       string          `json:"remarks"`
	SentAt        *time.Time      `json:"sent_at"`
	Payload       json.RawMessage `json:"payload"`
}

// ReceiverService validates inbound supplier messages and applies them to orders
type ReceiverService struct {
	*executor
	verifier procurement.SignatureVerifier
	window   time.Duration
}

// NewReceiverService creates a new ReceiverService
func NewReceiverService(store Store, verifier procurement.SignatureVerifier, clock shared.Clock, logger *zap.Logger) *ReceiverService {
	return &ReceiverService{
		executor: newExecutor(store, clock, logger),
		verifier: verifier,
		window:   DefaultAcceptanceWindow,
	}
}

// SetMetrics sets the metrics recorder
func (s *ReceiverService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetConflictRetries sets the bounded retry count for concurrency conflicts
func (s *ReceiverService) SetConflictRetries(n int) {
	if n > 0 {
		s.conflicts = n
	}
}

// SetAcceptanceWindow sets the freshness window for signed timestamps
func (s *ReceiverService) SetAcceptanceWindow(d time.Duration) {
	if d > 0 {
		s.window = d
	}
}

// Receive authenticates, deduplicates and applies an inbound message.
//
// A message already recorded under (correlation id, message id) is answered
// with the stored acknowledgment and changes nothing, whatever the order's
// current status.
func (s *ReceiverService) Receive(ctx context.Context, msg InboundMessage) (*ReceiveResult, error) {
	if err := s.verifier.Verify(msg.SupplierRef, msg.Timestamp, msg.Body, msg.Signature); err != nil {
		return nil, s.reject(ctx, msg, auditScope{}, err)
	}

	env, payload, err := s.parse(msg)
	if err != nil {
		return nil, s.reject(ctx, msg, auditScope{}, err)
	}

	if replay, err := s.replay(ctx, msg, env); err != nil || replay != nil {
		return replay, err
	}

	o, err := s.store.Orders.FindByCorrelationID(ctx, env.CorrelationID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			err = procurement.ErrOrderNotFound.With("correlation_id", env.CorrelationID)
		}
		return nil, s.reject(ctx, msg, auditScope{}, err)
	}
	scope := auditScope{
		OrderID: o.ID,
		Event:   procurement.AuditPortalResponse,
		Actor:   "supplier:" + msg.SupplierRef,
		Origin:  procurement.OriginPortal,
	}
	if o.SupplierRef != msg.SupplierRef {
		return nil, s.reject(ctx, msg, scope, procurement.ErrInvalidSignature.
			With("order_id", o.ID.String()).
			With("reason", "message signed by another supplier"))
	}
	if !o.Status.AcceptsSupplierResponse() {
		return nil, s.reject(ctx, msg, scope, procurement.ErrUnexpectedResponse.
			With("order_id", o.ID.String()).
			With("status", string(o.Status)).
			With("kind", env.Kind))
	}
	signedAt, err := s.checkFreshness(msg.Timestamp)
	if err != nil {
		return nil, s.reject(ctx, msg, scope, err)
	}

	result, err := s.apply(ctx, msg, env, payload, signedAt, scope)
	if errors.Is(err, procurement.ErrDuplicateMessage) {
		// lost the insert race against a concurrent delivery of the same message
		if replay, rerr := s.replay(ctx, msg, env); rerr != nil || replay != nil {
			return replay, rerr
		}
		return nil, err
	}
	if err != nil {
		s.metrics.RecordInboundRejected(ctx, shared.CodeOf(err))
		s.logger.Warn("inbound portal message rejected",
			zap.String("code", shared.CodeOf(err)),
			zap.String("supplier_ref", msg.SupplierRef),
			zap.String("correlation_id", env.CorrelationID),
			zap.String("message_id", env.MessageID),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

// parse decodes the envelope; header identifiers win and must agree with the body
func (s *ReceiverService) parse(msg InboundMessage) (*inboundEnvelope, procurement.ResponsePayload, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		return nil, nil, procurement.FieldErrors{"body": "must be a JSON object"}.Err()
	}
	errs := procurement.FieldErrors{}
	env.CorrelationID = pick(msg.CorrelationID, env.CorrelationID, "correlation_id", errs)
	env.MessageID = pick(msg.MessageID, env.MessageID, "message_id", errs)
	if err := errs.Err(); err != nil {
		return nil, nil, err
	}
	payload, err := procurement.DecodePayload(procurement.ResponseKind(env.Kind), env.Payload)
	if err != nil {
		return nil, nil, err
	}
	return &env, payload, nil
}

func pick(header, body, field string, errs procurement.FieldErrors) string {
	switch {
	case header == "" && body == "":
		errs.Add(field, "is required")
	case header != "" && body != "" && header != body:
		errs.Add(field, "header and body disagree")
	case header != "":
		return header
	}
	return body
}

// checkFreshness parses the signed unix timestamp and enforces the acceptance window
func (s *ReceiverService) checkFreshness(timestamp string) (time.Time, error) {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return time.Time{}, procurement.ErrStaleMessage.With("timestamp", timestamp).With("reason", "not a unix timestamp")
	}
	signedAt := time.Unix(secs, 0).UTC()
	skew := s.clock.Now().Sub(signedAt)
	if math.Abs(float64(skew)) > float64(s.window) {
		return time.Time{}, procurement.ErrStaleMessage.
			With("timestamp", timestamp).
			With("skew", skew.Round(time.Second).String())
	}
	return signedAt, nil
}

// replay returns the stored acknowledgment of an already recorded message, or nil
func (s *ReceiverService) replay(ctx context.Context, msg InboundMessage, env *inboundEnvelope) (*ReceiveResult, error) {
	stored, err := s.store.Responses.FindByMessage(ctx, env.CorrelationID, env.MessageID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if stored.SupplierRef != msg.SupplierRef {
		scope := auditScope{
			OrderID: stored.OrderID,
			Event:   procurement.AuditPortalResponseRetry,
			Actor:   "supplier:" + msg.SupplierRef,
			Origin:  procurement.OriginPortal,
		}
		return nil, s.reject(ctx, msg, scope, procurement.ErrInvalidSignature.
			With("order_id", stored.OrderID.String()).
			With("reason", "message signed by another supplier"))
	}

	audit := procurement.NewAuditEvent(stored.OrderID, procurement.AuditPortalResponseRetry,
		"supplier:"+msg.SupplierRef, procurement.OriginPortal, s.clock.Now()).
		WithDetail("message_id", env.MessageID).
		WithDetail("correlation_id", env.CorrelationID).
		WithDetail("origin_ip", msg.OriginIP)
	audit.Outcome = procurement.AuditDuplicate
	if err := s.store.Ledger.Record(context.WithoutCancel(ctx), audit); err != nil {
		s.logger.Error("failed to record audit event",
			zap.String("order_id", stored.OrderID.String()),
			zap.String("event", audit.Event),
			zap.Error(err),
		)
	}
	s.logger.Info("duplicate portal message acknowledged",
		zap.String("order_id", stored.OrderID.String()),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("message_id", env.MessageID),
	)
	return &ReceiveResult{Body: stored.Acknowledgment, Duplicate: true}, nil
}

// apply records the response, its inbound attempt and the resulting transition in one unit of work
func (s *ReceiverService) apply(ctx context.Context, msg InboundMessage, env *inboundEnvelope, payload procurement.ResponsePayload,
	signedAt time.Time, scope auditScope) (*ReceiveResult, error) {
	var result *ReceiveResult
	err := s.mutate(ctx, scope, func(ctx context.Context) error {
		o, err := s.store.Orders.FindByID(ctx, scope.OrderID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		sentAt := signedAt
		if env.SentAt != nil {
			sentAt = env.SentAt.UTC()
		}
		r := &procurement.SupplierResponse{
			ID:            uuid.New(),
			OrderID:       o.ID,
			CorrelationID: env.CorrelationID,
			MessageID:     env.MessageID,
			SupplierRef:   msg.SupplierRef,
			Payload:       payload,
			Remarks:       env.Remarks,
			SentAt:        sentAt,
			ReceivedAt:    now,
		}
		from := o.Status
		transition, err := o.ApplySupplierResponse(r, now)
		if err != nil {
			return err
		}

		ack, err := procurement.Acknowledgment{
			CorrelationID:  env.CorrelationID,
			MessageID:      env.MessageID,
			OrderID:        o.ID.String(),
			SequenceNumber: o.SequenceNumber,
			OrderStatus:    o.Status,
			Accepted:       true,
			ReceivedAt:     now,
		}.Encode()
		if err != nil {
			return err
		}
		r.Acknowledgment = ack

		last, err := s.store.Attempts.LastAttemptNumber(ctx, o.ID, procurement.OperationWebhookResponse)
		if err != nil {
			return err
		}
		attempt := procurement.NewInboundAttempt(o.ID, last+1, env.MessageID, msg.OriginIP, msg.Signature, msg.Body, ack, now)
		r.AttemptID = attempt.ID

		o.AddDomainEvent(procurement.NewSupplierResponseReceivedEvent(o, r, now))

		cs := &procurement.Changeset{Order: o, Attempts: []*procurement.IntegrationAttempt{attempt}, Response: r}
		cs.AddAudit(procurement.NewAuditEvent(o.ID, procurement.AuditPortalResponse, scope.Actor, scope.Origin, now).
			WithStatus(from, o.Status).
			WithDetail("kind", string(r.Kind())).
			WithDetail("message_id", r.MessageID).
			WithDetail("attempt_id", attempt.ID.String()).
			WithDetail("origin_ip", msg.OriginIP), transition)
		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		result = &ReceiveResult{Body: ack}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("supplier response applied",
		zap.String("order_id", scope.OrderID.String()),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("message_id", env.MessageID),
		zap.String("kind", env.Kind),
	)
	return result, nil
}

// reject logs and counts a refused message; scope carries the order when it is known
func (s *ReceiverService) reject(ctx context.Context, msg InboundMessage, scope auditScope, err error) error {
	code := shared.CodeOf(err)
	s.metrics.RecordInboundRejected(ctx, code)
	s.logger.Warn("inbound portal message rejected",
		zap.String("code", code),
		zap.String("supplier_ref", msg.SupplierRef),
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("message_id", msg.MessageID),
		zap.String("origin_ip", msg.OriginIP),
		zap.Error(err),
	)
	s.recordFailure(ctx, scope, err)
	return err
}
