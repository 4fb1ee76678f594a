// internal/schema/validator.go
// Package schema provides JSON schema validation for queued offline
// mutations. Payloads are checked at capture time so a sync pass never
// replays a malformed intent.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Haleem001/agrivault/internal/model"
)

// Validator validates queue payloads against per-kind JSON schemas.
type Validator struct {
	schemas map[model.QueueKind]*gojsonschema.Schema
}

// NewValidator creates a validator with all queue payload schemas
// compiled.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[model.QueueKind]*gojsonschema.Schema)}
	if err := v.loadSchemas(); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	return v, nil
}

func (v *Validator) loadSchemas() error {
	// Each kind accepts two payload shapes: the record shape Insert
	// takes directly, and the capture shape the app's screens write
	// while offline (string-typed form fields, screen field names).
	// Capture-shaped payloads are stored verbatim and converted to the
	// record shape at replay time.
	listingSchema := `{
		"type": "object",
		"anyOf": [
			{
				"required": ["farmer_id", "produce_name", "quantity_kg", "price_per_kg"],
				"properties": {
					"farmer_id": {"type": "string", "minLength": 1},
					"produce_name": {"type": "string", "minLength": 1, "maxLength": 128},
					"quantity_kg": {"type": "number", "minimum": 0},
					"price_per_kg": {"type": "number", "minimum": 0},
					"storage_facility_id": {"type": "string"},
					"image_url": {"type": "string"}
				}
			},
			{
				"required": ["name", "quantity", "price"],
				"properties": {
					"name": {"type": "string", "minLength": 1, "maxLength": 128},
					"quantity": {"type": ["string", "number"]},
					"price": {"type": ["string", "number"]}
				}
			}
		]
	}`
	if err := v.loadSchema(model.QueueKindListing, listingSchema); err != nil {
		return fmt.Errorf("failed to load listing schema: %w", err)
	}

	orderSchema := `{
		"type": "object",
		"required": ["buyer_id", "produce_listing_id", "quantity_kg", "delivery_address"],
		"properties": {
			"buyer_id": {"type": "string", "minLength": 1},
			"produce_listing_id": {"type": "string", "minLength": 1},
			"quantity_kg": {"type": "number", "exclusiveMinimum": 0},
			"total_price": {"type": "number", "minimum": 0},
			"delivery_address": {"type": "string", "minLength": 1, "maxLength": 512}
		}
	}`
	if err := v.loadSchema(model.QueueKindOrder, orderSchema); err != nil {
		return fmt.Errorf("failed to load order schema: %w", err)
	}

	bookingSchema := `{
		"type": "object",
		"anyOf": [
			{
				"required": ["farmer_id", "storage_facility_id", "quantity_kg"],
				"properties": {
					"farmer_id": {"type": "string", "minLength": 1},
					"storage_facility_id": {"type": "string", "minLength": 1},
					"produce_listing_id": {"type": "string"},
					"quantity_kg": {"type": "number", "exclusiveMinimum": 0},
					"start_date": {"type": "string"},
					"end_date": {"type": "string"}
				}
			},
			{
				"required": ["produceType", "quantity", "duration"],
				"properties": {
					"produceType": {"type": "string", "minLength": 1},
					"quantity": {"type": ["string", "number"]},
					"duration": {"type": ["string", "number"]},
					"location": {"type": "string"},
					"pickupDate": {"type": "string"}
				}
			}
		]
	}`
	if err := v.loadSchema(model.QueueKindBooking, bookingSchema); err != nil {
		return fmt.Errorf("failed to load booking schema: %w", err)
	}

	return nil
}

func (v *Validator) loadSchema(kind model.QueueKind, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", kind, err)
	}
	v.schemas[kind] = schema
	return nil
}

// Validate checks a payload against the schema for its kind. Returns
// nil if valid, an error listing every violation otherwise.
func (v *Validator) Validate(kind model.QueueKind, payload map[string]interface{}) error {
	if !model.ValidQueueKind(kind) {
		return fmt.Errorf("unsupported queue kind: %s", kind)
	}

	schema, exists := v.schemas[kind]
	if !exists {
		return fmt.Errorf("schema not found for kind: %s", kind)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payloadJSON))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
