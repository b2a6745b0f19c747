package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/metrics"
	"LineDesk/utils"
)

// Store is the data access the broadcast engine needs.
type Store interface {
	ChannelByID(id uint) (*db.Channel, error)
	MessageByID(id uint) (*db.Message, error)
	RecipientLineIDs(channelID uint, tagIDs []uint) ([]string, error)
	ClaimMessage(messageID uint, fromStatus string) (bool, error)
	FinishMessage(messageID uint, status string, recipients, success, failure int, sentAt time.Time) error
	DueScheduledMessages(now time.Time, limit int) ([]db.Message, error)
}

type GatewayFactory func(accessToken string) line.Gateway

// Engine fans broadcast messages out to their resolved audience in
// gateway-cap-sized batches.
type Engine struct {
	store      Store
	newGateway GatewayFactory
	now        func() time.Time
	pageSize   int
	batchSize  int
}

func NewEngine(store Store, newGateway GatewayFactory) *Engine {
	if newGateway == nil {
		newGateway = line.NewGateway
	}
	return &Engine{
		store:      store,
		newGateway: newGateway,
		now:        time.Now,
		pageSize:   20,
		batchSize:  line.MulticastLimit,
	}
}

// SendNow claims a draft or scheduled message for immediate delivery.
// Returns false when the message was not in a sendable status (already
// claimed, already sent).
func (e *Engine) SendNow(ctx context.Context, messageID uint) (bool, error) {
	msg, err := e.claimForSend(messageID)
	if err != nil || msg == nil {
		return false, err
	}
	e.deliver(ctx, msg)
	return true, nil
}

func (e *Engine) claimForSend(messageID uint) (*db.Message, error) {
	for _, from := range []string{db.MessageStatusDraft, db.MessageStatusScheduled} {
		claimed, err := e.store.ClaimMessage(messageID, from)
		if err != nil {
			return nil, fmt.Errorf("claim message %d: %w", messageID, err)
		}
		if claimed {
			return e.store.MessageByID(messageID)
		}
	}
	return nil, nil
}

// SweepScheduled picks up a bounded page of due scheduled messages. Each row
// is flipped scheduled → sending with a conditional update before any work,
// so a concurrent sweep run cannot deliver the same message twice. Returns
// the number of messages processed.
func (e *Engine) SweepScheduled(ctx context.Context) int {
	due, err := e.store.DueScheduledMessages(e.now(), e.pageSize)
	if err != nil {
		log.Error().Err(err).Msg("broadcast sweep: failed to fetch due messages")
		return 0
	}

	processed := 0
	for i := range due {
		claimed, err := e.store.ClaimMessage(due[i].ID, db.MessageStatusScheduled)
		if err != nil {
			log.Error().Err(err).Uint("message_id", due[i].ID).Msg("broadcast sweep: claim failed")
			continue
		}
		if !claimed {
			continue
		}
		e.deliver(ctx, &due[i])
		processed++
		metrics.SweepItems.WithLabelValues("broadcasts").Inc()
	}
	return processed
}

// deliver resolves the audience, batches it, and records the outcome. One
// failed batch fails only its own recipients; the message ends up failed
// only when every batch failed. Zero recipients is an immediate sent with
// zero counts and no gateway call.
func (e *Engine) deliver(ctx context.Context, msg *db.Message) {
	ch, err := e.store.ChannelByID(msg.ChannelID)
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("broadcast: channel missing")
		e.finish(msg.ID, db.MessageStatusFailed, 0, 0, 0)
		return
	}

	recipients, err := e.store.RecipientLineIDs(msg.ChannelID, msg.TagIDs.Data())
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("broadcast: failed to resolve recipients")
		e.finish(msg.ID, db.MessageStatusFailed, 0, 0, 0)
		return
	}
	if len(recipients) == 0 {
		e.finish(msg.ID, db.MessageStatusSent, 0, 0, 0)
		return
	}

	wire, err := BuildWireMessages(msg.Contents.Data())
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("broadcast: unsendable content")
		e.finish(msg.ID, db.MessageStatusFailed, len(recipients), 0, len(recipients))
		return
	}

	token, err := utils.Decrypt(ch.AccessToken)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("broadcast: failed to decrypt access token")
		e.finish(msg.ID, db.MessageStatusFailed, len(recipients), 0, len(recipients))
		return
	}
	gw := e.newGateway(token)

	success, failure := 0, 0
	for _, batch := range splitBatches(recipients, e.batchSize) {
		if err := gw.Multicast(ctx, batch, wire); err != nil {
			log.Error().Err(err).Uint("message_id", msg.ID).Int("batch_size", len(batch)).
				Msg("broadcast: batch delivery failed")
			metrics.Deliveries.WithLabelValues("multicast", "error").Inc()
			failure += len(batch)
			continue
		}
		metrics.Deliveries.WithLabelValues("multicast", "ok").Inc()
		success += len(batch)
	}

	status := db.MessageStatusSent
	if success == 0 {
		status = db.MessageStatusFailed
	}
	e.finish(msg.ID, status, len(recipients), success, failure)
}

func (e *Engine) finish(messageID uint, status string, recipients, success, failure int) {
	if err := e.store.FinishMessage(messageID, status, recipients, success, failure, e.now()); err != nil {
		log.Error().Err(err).Uint("message_id", messageID).
			Msg("broadcast: failed to record outcome (deliveries already happened)")
	}
}

// splitBatches partitions recipients into slices of at most size.
func splitBatches(recipients []string, size int) [][]string {
	var batches [][]string
	for len(recipients) > size {
		batches = append(batches, recipients[:size])
		recipients = recipients[size:]
	}
	if len(recipients) > 0 {
		batches = append(batches, recipients)
	}
	return batches
}

// BuildWireMessages converts stored content blocks to platform wire
// messages. The storage format is decoupled from the wire format: a legacy
// image block carrying a link URL becomes a tappable buttons template.
// Unknown block types are an error, never silently dropped.
func BuildWireMessages(blocks []db.ContentBlock) ([]line.Message, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("message has no content blocks")
	}
	messages := make([]line.Message, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case db.BlockTypeText:
			messages = append(messages, line.NewTextMessage(block.Text))
		case db.BlockTypeImage:
			if block.LinkURL != "" {
				messages = append(messages, line.TemplateMessage{
					Type:    "template",
					AltText: block.Text,
					Template: line.ButtonsTemplate{
						Type:              "buttons",
						ThumbnailImageURL: block.OriginalURL,
						Text:              orDefault(block.Text, "詳細はこちら"),
						Actions: []line.TemplateAction{
							{Type: "uri", Label: "開く", URI: block.LinkURL},
						},
					},
				})
				continue
			}
			messages = append(messages, line.NewImageMessage(block.OriginalURL, block.PreviewURL))
		case db.BlockTypeVideo:
			messages = append(messages, line.NewVideoMessage(block.OriginalURL, block.PreviewURL))
		default:
			return nil, fmt.Errorf("unknown content block type %q", block.Type)
		}
	}
	return messages, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
