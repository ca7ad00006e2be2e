// Package stream provides DynamoDB Streams handlers that sweep part rows
// orphaned by concurrent writers.
//
// Deleting a master removes its parts in the same transaction, but a part
// committed by another process between that transaction's reads and its
// commit can survive it. The handler reacts to the row table's stream:
// when a master row is removed, or a part row appears whose master is
// gone, it asks the catalog to remove the parts left under the master key.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/store"
)

// Sweeper removes orphaned part rows.
type Sweeper interface {
	Schema() *schema.Registry
	SweepOrphans(ctx context.Context, entity string, key store.Key) (int, error)
}

// Handler processes DynamoDB stream events for the row table.
type Handler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s Sweeper, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sweeper: s,
		logger:  logger,
	}
}

// HandleOrphanSweep processes DynamoDB stream events and sweeps orphaned
// parts. It is designed to be used as an AWS Lambda handler; a returned
// error makes Lambda retry the batch.
func (h *Handler) HandleOrphanSweep(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	var image map[string]events.DynamoDBAttributeValue
	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeRemove:
		image = record.Change.OldImage
	case events.DynamoDBOperationTypeInsert:
		image = record.Change.NewImage
	default:
		return nil
	}

	entity, key, err := RowKey(image)
	if err != nil {
		return fmt.Errorf("record %s: %w", record.EventID, err)
	}
	if strings.HasPrefix(entity, "_") {
		return nil
	}

	et, err := h.sweeper.Schema().Resolve(entity)
	if errors.Is(err, errs.ErrUnknownEntity) {
		h.logger.Warn("skipping row of unknown entity type", "entity", entity)
		return nil
	}
	if err != nil {
		return err
	}

	if record.EventName == string(events.DynamoDBOperationTypeInsert) {
		// A new part is only orphaned if its master is gone.
		master := et.Master()
		if master == nil {
			return nil
		}
		n := len(master.KeySegments())
		if len(key) < n {
			return fmt.Errorf("record %s: key %s is shorter than the %s key", record.EventID, key, master.Name())
		}
		et, key = master, key[:n]
	}

	swept, err := h.sweeper.SweepOrphans(ctx, et.Name(), key)
	if err != nil {
		return fmt.Errorf("sweep %s %s: %w", et.Name(), key, err)
	}
	if swept > 0 {
		h.logger.Info("orphaned parts swept",
			"entity", et.Name(),
			"key", key.String(),
			"rows", swept,
		)
	}
	return nil
}

// RowKey extracts the entity type and full key from a row image.
func RowKey(image map[string]events.DynamoDBAttributeValue) (string, store.Key, error) {
	entity := getStringAttr(image, "entity")
	if entity == "" {
		return "", nil, errors.New("image has no entity")
	}
	if key, ok := getStringListAttr(image, "key"); ok {
		return entity, key, nil
	}
	// Fall back to the sort key, which holds the encoded full key.
	sk := getStringAttr(image, "sk")
	if sk == "" {
		return "", nil, errors.New("image has no key")
	}
	key, err := store.DecodeKey(sk)
	if err != nil {
		return "", nil, err
	}
	return entity, key, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getStringListAttr extracts a list of strings from a DynamoDB stream image.
// ok is false when the attribute is missing, not a list, or holds anything
// other than strings.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) (store.Key, bool) {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeList {
		return nil, false
	}
	list := v.List()
	result := make(store.Key, 0, len(list))
	for _, item := range list {
		if item.DataType() != events.DataTypeString {
			return nil, false
		}
		result = append(result, item.String())
	}
	return result, true
}
