package manager

import (
	"context"

	assetsv1 "github.com/Combine-Capital/cqc/gen/go/cqc/assets/v1"
	eventsv1 "github.com/Combine-Capital/cqc/gen/go/cqc/events/v1"
	venuesv1 "github.com/Combine-Capital/cqc/gen/go/cqc/venues/v1"
	"github.com/Combine-Capital/cqi/pkg/bus"
	"github.com/Combine-Capital/cqi/pkg/logging"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Event topics
const (
	TopicAssetCreated           = "cqc.events.v1.asset_created"
	TopicAssetDeploymentCreated = "cqc.events.v1.asset_deployment_created"
	TopicVenueAssetListed       = "cqc.events.v1.venue_asset_listed"

	eventActorID = "service:cqre"
	eventSource  = "cqre"
)

// EventPublisher publishes registry changes to the NATS JetStream event bus.
// Events are published asynchronously; failures are logged and never fail
// the reconciliation step that produced them.
type EventPublisher struct {
	bus    bus.EventBus
	logger *logging.Logger
}

// NewEventPublisher creates a new EventPublisher instance.
func NewEventPublisher(eventBus bus.EventBus, logger *logging.Logger) *EventPublisher {
	return &EventPublisher{
		bus:    eventBus,
		logger: logger,
	}
}

// PublishAssetCreated publishes an AssetCreated event when reconciliation creates an asset.
func (p *EventPublisher) PublishAssetCreated(ctx context.Context, asset *assetsv1.Asset, source string) {
	if p == nil || p.bus == nil {
		return
	}

	eventID := uuid.New().String()
	actorID := eventActorID
	if source == "" {
		source = eventSource
	}
	event := &eventsv1.AssetCreated{
		EventId:   &eventID,
		Timestamp: timestamppb.Now(),
		ActorId:   &actorID,
		Asset:     asset,
		Source:    &source,
	}

	p.publish(ctx, TopicAssetCreated, eventID, ptrStr(asset.AssetId), event)
}

// PublishAssetDeploymentCreated publishes an AssetDeploymentCreated event when
// a contract address is attached to an asset.
func (p *EventPublisher) PublishAssetDeploymentCreated(ctx context.Context, deployment *assetsv1.AssetDeployment, source string) {
	if p == nil || p.bus == nil {
		return
	}

	eventID := uuid.New().String()
	actorID := eventActorID
	if source == "" {
		source = eventSource
	}
	autoDetected := true
	event := &eventsv1.AssetDeploymentCreated{
		EventId:      &eventID,
		Timestamp:    timestamppb.Now(),
		ActorId:      &actorID,
		Deployment:   deployment,
		Source:       &source,
		AutoDetected: &autoDetected,
	}

	p.publish(ctx, TopicAssetDeploymentCreated, eventID, ptrStr(deployment.AssetId), event)
}

// PublishVenueAssetListed publishes a VenueAssetListed event for a new exchange listing.
func (p *EventPublisher) PublishVenueAssetListed(ctx context.Context, venueAsset *venuesv1.VenueAsset) {
	if p == nil || p.bus == nil {
		return
	}

	eventID := uuid.New().String()
	actorID := eventActorID
	isNewListing := true
	event := &eventsv1.VenueAssetListed{
		EventId:      &eventID,
		Timestamp:    timestamppb.Now(),
		ActorId:      &actorID,
		VenueAsset:   venueAsset,
		IsNewListing: &isNewListing,
	}

	p.publish(ctx, TopicVenueAssetListed, eventID, ptrStr(venueAsset.AssetId), event)
}

func (p *EventPublisher) publish(ctx context.Context, topic, eventID, assetID string, event proto.Message) {
	go func() {
		if err := p.bus.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
			p.logger.Error().
				Err(err).
				Str("topic", topic).
				Str("asset_id", assetID).
				Str("event_id", eventID).
				Msg("Failed to publish event")
			return
		}
		p.logger.Info().
			Str("topic", topic).
			Str("asset_id", assetID).
			Str("event_id", eventID).
			Msg("Published event")
	}()
}
