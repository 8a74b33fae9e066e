package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// Signal bus channel names.
const (
	ChannelEvents = "ch:escrow"
	StreamEvents  = "stream:escrow"
)

// EventChannel is the per-type pub/sub channel for an event type.
func EventChannel(eventType string) string {
	return ChannelEvents + ":" + eventType
}

const sinkTimeout = 5 * time.Second

// EventPublisher fans committed events out to the signal bus: the shared
// channel, the per-type channel and the durable stream.
type EventPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(bus domain.SignalBus, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{bus: bus, logger: logger.With(slog.String("component", "event_publisher"))}
}

// Deliver implements chain.Sink. Publish failures are logged; the
// transaction has already committed.
func (p *EventPublisher) Deliver(ctx context.Context, rcpt chain.Receipt) {
	envs, err := rcpt.Envelopes()
	if err != nil {
		p.logger.ErrorContext(ctx, "encode events failed",
			slog.Uint64("seq", rcpt.Seq),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, env := range envs {
		payload, err := json.Marshal(env)
		if err != nil {
			continue
		}
		for _, ch := range []string{ChannelEvents, EventChannel(env.Type)} {
			if err := p.bus.Publish(ctx, ch, payload); err != nil {
				p.logger.WarnContext(ctx, "publish event failed",
					slog.String("channel", ch),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := p.bus.StreamAppend(ctx, StreamEvents, payload); err != nil {
			p.logger.WarnContext(ctx, "stream append failed",
				slog.String("stream", StreamEvents),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Notifier is the subset of notify.Notifier the event sink uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EventNotifier turns settlement and governance events into operator
// notifications. Events without a template are ignored.
type EventNotifier struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewEventNotifier creates an EventNotifier.
func NewEventNotifier(n Notifier, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{notifier: n, logger: logger.With(slog.String("component", "event_notifier"))}
}

// Deliver implements chain.Sink.
func (n *EventNotifier) Deliver(ctx context.Context, rcpt chain.Receipt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, ev := range rcpt.Events {
		title, msg, ok := describe(ev)
		if !ok {
			continue
		}
		if err := n.notifier.Notify(ctx, ev.EventType(), title, fmt.Sprintf("%s\nseq %d, tx %s", msg, rcpt.Seq, rcpt.Hash.Hex())); err != nil {
			n.logger.WarnContext(ctx, "notify failed",
				slog.String("event", ev.EventType()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func describe(ev domain.Event) (title, msg string, ok bool) {
	switch e := ev.(type) {
	case domain.BondIssued:
		return "Bond issued", fmt.Sprintf("Bond #%d (%s) by %s: %s x%d for %ds",
			e.BondID, e.AssetType, e.Issuer.Hex(), e.BondAmount, e.Quantity, e.Duration), true
	case domain.BondPosted:
		return "Bond posted", fmt.Sprintf("Posted bond #%d on bond #%d by %s, %s locked until %d",
			e.PostedBondID, e.BondID, e.Poster.Hex(), e.Amount, e.ExpiryTime), true
	case domain.BondExpired:
		return "Bond claimed", fmt.Sprintf("Posted bond #%d paid %s to %s (reward %s, fee %s)",
			e.PostedBondID, e.Payout, e.Holder.Hex(), e.Reward, e.Fee), true
	case domain.LeakAdjudicated:
		return "Leak adjudicated", fmt.Sprintf("Proposal #%d redirected posted bond #%d: %s paid to issuer %s",
			e.ProposalID, e.PostedBondID, e.Amount, e.Issuer.Hex()), true
	case domain.ProposalCreated:
		return "Adjudication opened", fmt.Sprintf("Proposal #%d against posted bond #%d by %s, voting until %d",
			e.ProposalID, e.PostedBondID, e.Proposer.Hex(), e.Deadline), true
	case domain.ProposalDismissed:
		return "Adjudication dismissed", fmt.Sprintf("Proposal #%d against posted bond #%d was rejected",
			e.ProposalID, e.PostedBondID), true
	case domain.FeeRatesUpdated:
		return "Fee rates updated", fmt.Sprintf("governance %d bps, affiliate %d bps",
			e.GovernanceBps, e.AffiliateBps), true
	}
	return "", "", false
}
