package http

import (
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"
)

var listJQCodeCache sync.Map

// applyListJQ runs a configured jq expression over a decoded list payload,
// for registries whose envelope the default extraction does not recognize.
func applyListJQ(expression string, payload any) (any, error) {
	code, err := compileListJQ(expression)
	if err != nil {
		return nil, validationError("invalid list jq expression", err)
	}

	iterator := code.Run(normalizeForJQ(payload))
	results := make([]any, 0, 1)
	for {
		value, ok := iterator.Next()
		if !ok {
			break
		}
		if valueErr, isErr := value.(error); isErr {
			return nil, validationError("failed to evaluate list jq expression", valueErr)
		}
		results = append(results, value)
	}

	if len(results) == 0 {
		return []any{}, nil
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// normalizeForJQ rewrites json.Number values into the int/float64 values
// gojq accepts as input.
func normalizeForJQ(payload any) any {
	switch typed := payload.(type) {
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return int(integer)
		}
		if floating, err := typed.Float64(); err == nil {
			return floating
		}
		return typed.String()
	case []any:
		normalized := make([]any, len(typed))
		for idx, value := range typed {
			normalized[idx] = normalizeForJQ(value)
		}
		return normalized
	case map[string]any:
		normalized := make(map[string]any, len(typed))
		for key, value := range typed {
			normalized[key] = normalizeForJQ(value)
		}
		return normalized
	default:
		return typed
	}
}

func compileListJQ(expression string) (*gojq.Code, error) {
	if cached, ok := listJQCodeCache.Load(expression); ok {
		if typed, typedOK := cached.(*gojq.Code); typedOK && typed != nil {
			return typed, nil
		}
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}

	actual, _ := listJQCodeCache.LoadOrStore(expression, code)
	if typed, typedOK := actual.(*gojq.Code); typedOK && typed != nil {
		return typed, nil
	}
	return code, nil
}
