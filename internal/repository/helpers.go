package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// normalizeID converts the _id field from numeric (float64) to string
// since OxiDB returns auto-increment numeric IDs.
func normalizeID(doc map[string]any) {
	if id, ok := doc["_id"]; ok {
		switch v := id.(type) {
		case float64:
			doc["_id"] = fmt.Sprintf("%.0f", v)
		case int:
			doc["_id"] = fmt.Sprintf("%d", v)
		}
	}
}

// extractID gets the inserted document ID from an OxiDB insert response.
func extractID(result map[string]any) string {
	if id, ok := result["id"]; ok {
		switch v := id.(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func toNumericID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// toDoc converts a model to an OxiDB document without its _id.
func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

func fromDoc[T any](doc map[string]any) (*T, error) {
	normalizeID(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal doc: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal doc: %w", err)
	}
	return &out, nil
}
