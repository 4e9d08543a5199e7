package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/observability"
	"github.com/noah-isme/campus-portal-api/internal/repository"
)

const (
	notificationBufferSize = 16
	fanOutSideEffect       = "notification_fanout"
)

// NotificationBatch is one message addressed to a set of recipients.
type NotificationBatch struct {
	UserIDs []string
	Title   string
	Message string
	Type    string
	Link    string
}

// NotificationFanOut delivers best-effort notifications on behalf of other workflows.
type NotificationFanOut interface {
	FanOut(ctx context.Context, batch NotificationBatch) SideEffectOutcome
}

// NotificationService persists, lists and streams notifications.
type NotificationService interface {
	NotificationFanOut
	List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, error)
	Send(ctx context.Context, payload dto.NotificationSendRequest) (dto.NotificationSendResponse, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
}

type notificationService struct {
	repo         repository.NotificationRepository
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	tracer       trace.Tracer
	sanitizer    *bluemonday.Policy
	validator    *validator.Validate
	broker       *notificationBroker
	nodeID       string
}

type notificationEvent struct {
	Source       string                   `json:"source"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

// NewNotificationService constructs a notification service. Redis pub/sub is used for
// cross-node delivery when configured, NATS otherwise.
func NewNotificationService(repo repository.NotificationRepository, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) NotificationService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":notifications"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications"
	}

	return &notificationService{
		repo:         repo,
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "notification_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/campus-portal-api/internal/service/notification"),
		sanitizer:    bluemonday.StrictPolicy(),
		validator:    validator.New(validator.WithRequiredStructEnabled()),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *notificationService) Start(ctx context.Context) {
	switch {
	case s.redis != nil && s.redisChannel != "":
		go s.consumeRedis(ctx)
	case s.nats != nil && s.natsSubject != "":
		s.consumeNATS(ctx)
	}
}

// FanOut inserts one notification per distinct recipient. Failures are reported in the outcome only.
func (s *notificationService) FanOut(ctx context.Context, batch NotificationBatch) SideEffectOutcome {
	recipients := uniqueNonEmpty(batch.UserIDs)
	if len(recipients) == 0 {
		return skippedOutcome(fanOutSideEffect)
	}

	title := strings.TrimSpace(s.sanitizer.Sanitize(batch.Title))
	message := strings.TrimSpace(s.sanitizer.Sanitize(batch.Message))
	notificationType := strings.TrimSpace(batch.Type)
	if notificationType == "" {
		notificationType = models.NotificationTypeAssignment
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.fanout", trace.WithAttributes(
		attribute.String("notification.type", notificationType),
		attribute.Int("notification.recipients", len(recipients)),
	))
	defer span.End()

	var failures []error
	delivered := 0
	for _, userID := range recipients {
		model := models.Notification{
			UserID:  userID,
			Title:   title,
			Message: message,
			Type:    notificationType,
			Link:    batch.Link,
		}
		if err := s.repo.Create(spanCtx, &model); err != nil {
			failures = append(failures, err)
			continue
		}

		delivered++
		observability.NotificationsCreated().WithLabelValues(notificationType).Inc()

		response := dto.NewNotificationResponse(model)
		s.broadcast(response)
		if err := s.publish(spanCtx, response); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to publish notification to broker")
		}
	}

	s.logger.Info().
		Str("type", notificationType).
		Int("recipients", len(recipients)).
		Int("delivered", delivered).
		Msg("notifications fanned out")

	if len(failures) > 0 {
		err := errors.Join(failures...)
		span.RecordError(err)
		return degradedOutcome(fanOutSideEffect, err)
	}
	return okOutcome(fanOutSideEffect)
}

// Send fans out a staff-authored notification. Unlike workflow fan-out, a failed write is
// reported to the caller.
func (s *notificationService) Send(ctx context.Context, payload dto.NotificationSendRequest) (dto.NotificationSendResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationSendResponse{}, wrapValidation(err)
	}
	recipients := uniqueNonEmpty(payload.RecipientIDs)
	if len(recipients) == 0 {
		return dto.NotificationSendResponse{}, newValidationError("recipient_ids", "at least one recipient is required")
	}
	if strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)) == "" {
		return dto.NotificationSendResponse{}, newValidationError("title", "is empty after sanitizing")
	}

	outcome := s.FanOut(ctx, NotificationBatch{
		UserIDs: recipients,
		Title:   payload.Title,
		Message: payload.Message,
		Type:    payload.Type,
		Link:    payload.Link,
	})
	outcome.record(s.logger)
	if outcome.Degraded() {
		return dto.NotificationSendResponse{}, dependencyError("send notifications", outcome.Err)
	}

	return dto.NotificationSendResponse{Recipients: len(recipients)}, nil
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newValidationError("user_id", "is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, dependencyError("list notifications", err)
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, dependencyError("mark notification read", err)
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.NotificationStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(userID, channel)
			observability.NotificationStreamClients().Dec()
		})
	}

	return channel, cleanup
}

func (s *notificationService) broadcast(notification dto.NotificationResponse) {
	s.broker.broadcast(notification.UserID, notification)
}

func (s *notificationService) publish(ctx context.Context, notification dto.NotificationResponse) error {
	event := notificationEvent{
		Source:       s.nodeID,
		Notification: notification,
		SentAt:       time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	switch {
	case s.redis != nil && s.redisChannel != "":
		return s.redis.Publish(ctx, s.redisChannel, payload).Err()
	case s.nats != nil && s.natsSubject != "":
		return s.nats.Publish(s.natsSubject, payload)
	}

	return nil
}

func (s *notificationService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *notificationService) consumeNATS(ctx context.Context) {
	// Every node holds its own websocket clients, so no queue group here.
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (s *notificationService) handleEvent(payload []byte) {
	var event notificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.broadcast(event.Notification)
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(userID string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[userID] {
		select {
		case ch <- notification:
		default:
		}
	}
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
