// Package notify publishes a PhotoChanged event for every successful
// mutation of a Photo record so clients watching an album can refresh.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// Event source and detail type. Subscribers filter on detail.albumId or
// detail.owner.
const (
	Source           = "photo-pipeline"
	DetailTypeChange = "PhotoChanged"
)

// PhotoChanged is the event detail.
type PhotoChanged struct {
	ID               string       `json:"id"`
	AlbumID          string       `json:"albumId,omitempty"`
	Owner            string       `json:"owner,omitempty"`
	ProcessingStatus photo.Status `json:"processingStatus"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Publisher delivers change events.
type Publisher interface {
	PhotoChanged(ctx context.Context, p *photo.Photo) error
}

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

var _ EventBridgeAPI = (*eventbridge.Client)(nil)

// EventBridge publishes PhotoChanged events to a bus.
type EventBridge struct {
	client  EventBridgeAPI
	busName string
}

var _ Publisher = (*EventBridge)(nil)

// NewEventBridge returns a publisher for busName.
func NewEventBridge(client EventBridgeAPI, busName string) *EventBridge {
	return &EventBridge{client: client, busName: busName}
}

func (e *EventBridge) PhotoChanged(ctx context.Context, p *photo.Photo) error {
	detail, err := json.Marshal(PhotoChanged{
		ID:               p.ID,
		AlbumID:          p.AlbumID,
		Owner:            p.Owner,
		ProcessingStatus: p.ProcessingStatus,
		UpdatedAt:        p.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal PhotoChanged: %w", err)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(e.busName),
				Source:       aws.String(Source),
				DetailType:   aws.String(DetailTypeChange),
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("id", p.ID).Str("status", string(p.ProcessingStatus)).Msg("PhotoChanged emitted to EventBridge")
	return nil
}
