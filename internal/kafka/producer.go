package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует события леджера в Kafka. Все публикации best-effort:
// вызывающие логируют ошибку и продолжают, выпуск токена от доставки
// события не зависит.
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает нового продюсера Kafka
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info("Successfully connected to Kafka producer")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// publishEvent сериализует событие и отправляет его в топик
func (p *Producer) publishEvent(topic string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.ID.String()),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithFields(map[string]interface{}{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"type":      event.Type,
	}).Debug("Event published")

	return nil
}

func newEvent(eventType models.EventType, data map[string]interface{}) models.Event {
	return models.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// PublishWalletCreated публикует событие создания кошелька
func (p *Producer) PublishWalletCreated(wallet *models.Wallet) error {
	return p.publishEvent(p.topics.Wallets, newEvent(models.EventTypeWalletCreated, map[string]interface{}{
		"account_id": wallet.AccountID.String(),
		"tier":       wallet.Tier,
		"status":     wallet.Status,
	}))
}

// PublishTokenIssued публикует событие выпуска токена скидки
func (p *Producer) PublishTokenIssued(token *models.DiscountToken) error {
	return p.publishEvent(p.topics.Tokens, newEvent(models.EventTypeTokenIssued, map[string]interface{}{
		"token_id":       token.ID.String(),
		"account_id":     token.AccountID.String(),
		"partner_id":     token.PartnerID.String(),
		"code":           token.Code,
		"attempt_number": token.AttemptNumber,
		"expires_at":     token.ExpiresAt.Format(time.RFC3339),
	}))
}

// PublishTokenSettled публикует событие фиксации исхода переговоров
func (p *Producer) PublishTokenSettled(token *models.DiscountToken, dealClosed bool) error {
	return p.publishEvent(p.topics.Tokens, newEvent(models.EventTypeTokenSettled, map[string]interface{}{
		"token_id":    token.ID.String(),
		"account_id":  token.AccountID.String(),
		"partner_id":  token.PartnerID.String(),
		"deal_closed": dealClosed,
	}))
}

// PublishTokenExpired публикует событие истечения токена
func (p *Producer) PublishTokenExpired(token *models.DiscountToken) error {
	return p.publishEvent(p.topics.Tokens, newEvent(models.EventTypeTokenExpired, map[string]interface{}{
		"token_id":   token.ID.String(),
		"account_id": token.AccountID.String(),
		"partner_id": token.PartnerID.String(),
	}))
}

// PublishTokenCancelled публикует событие административной отмены токена
func (p *Producer) PublishTokenCancelled(token *models.DiscountToken) error {
	return p.publishEvent(p.topics.Tokens, newEvent(models.EventTypeTokenCancelled, map[string]interface{}{
		"token_id":   token.ID.String(),
		"account_id": token.AccountID.String(),
		"partner_id": token.PartnerID.String(),
	}))
}

// Notify отправляет запрос на уведомление владельца аккаунта.
// Реализует контракт Notifier: единственная точка выхода уведомлений,
// доставкой занимается отдельный воркер со своей политикой повторов.
func (p *Producer) Notify(notification *models.Notification) error {
	return p.publishEvent(p.topics.Notifications, newEvent(models.EventTypeNotificationRequested, map[string]interface{}{
		"account_id": notification.AccountID.String(),
		"title":      notification.Title,
		"body":       notification.Body,
		"metadata":   notification.Metadata,
	}))
}
