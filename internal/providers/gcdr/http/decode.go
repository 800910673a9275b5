package http

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/gh-myio/gcdr-sync/gcdr"
)

// decodeEntity normalizes the registry's single-entity response shapes: a
// bare entity object or a {success, data, meta} envelope.
func decodeEntity(body []byte) (*gcdr.Entity, error) {
	payload, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	entityMap, ok := payload.(map[string]any)
	if !ok {
		return nil, validationError("registry entity response must be a JSON object", nil)
	}

	if data, hasData := entityMap["data"]; hasData {
		inner, innerOK := data.(map[string]any)
		if !innerOK {
			return nil, validationError("registry response \"data\" must be a JSON object", nil)
		}
		entityMap = inner
	}

	return entityFromPayload(entityMap)
}

func (c *Client) decodeList(body []byte) ([]gcdr.Entity, error) {
	payload, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	if c.listJQ != "" {
		payload, err = applyListJQ(c.listJQ, payload)
		if err != nil {
			return nil, err
		}
	}

	items, err := extractListItems(payload)
	if err != nil {
		return nil, err
	}

	entities := make([]gcdr.Entity, 0, len(items))
	for _, item := range items {
		itemMap, ok := item.(map[string]any)
		if !ok {
			return nil, validationError("registry list entries must be JSON objects", nil)
		}
		entity, err := entityFromPayload(itemMap)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}
	return entities, nil
}

// extractListItems accepts a bare array, an {items: [...]} object, a
// {data: [...]} envelope, or an object with a single array field.
func extractListItems(payload any) ([]any, error) {
	switch typed := payload.(type) {
	case []any:
		return typed, nil
	case map[string]any:
		for _, key := range []string{"items", "data"} {
			if field, ok := typed[key]; ok {
				values, valuesOK := field.([]any)
				if !valuesOK {
					return nil, validationError("registry list response "+key+" must be an array", nil)
				}
				return values, nil
			}
		}

		arrayFieldKeys := make([]string, 0, len(typed))
		for key, field := range typed {
			if _, fieldIsArray := field.([]any); fieldIsArray {
				arrayFieldKeys = append(arrayFieldKeys, key)
			}
		}
		sort.Strings(arrayFieldKeys)

		if len(arrayFieldKeys) == 1 {
			values, _ := typed[arrayFieldKeys[0]].([]any)
			return values, nil
		}
		return nil, validationError("registry list response has no recognizable items array", nil)
	default:
		return nil, validationError("registry list response must be an array or an object with an items array", nil)
	}
}

func entityFromPayload(payload map[string]any) (*gcdr.Entity, error) {
	id := stringField(payload, "id")
	if id == "" {
		return nil, validationError("registry entity payload is missing an id", nil)
	}

	return &gcdr.Entity{
		ID:         id,
		Code:       stringField(payload, "code"),
		Name:       stringField(payload, "name"),
		ExternalID: stringField(payload, "externalId"),
		CustomerID: stringField(payload, "customerId"),
		AssetID:    stringField(payload, "assetId"),
	}, nil
}

func stringField(payload map[string]any, key string) string {
	switch value := payload[key].(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case int:
		return strconv.Itoa(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

func decodeJSON(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, validationError("registry response body is not valid JSON", err)
	}
	return value, nil
}
