package vehicleboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValueExtractor derives the display value cached for a telemetry key from
// a raw gateway payload.
//
// An extractor returns an error when the payload does not carry the value.
// For a stream this ends the stream with an error event; for a one-shot
// request it fails the request.
type ValueExtractor func(payload []byte) (string, error)

// JSONFieldExtractor returns a [ValueExtractor] that reads a JSON field
// using dot notation to navigate nested objects, and appends suffix.
//
// For example, "data.level_percent" navigates to
// {"data": {"level_percent": 42.5}}; with suffix "%" the value is "42.5%".
//
// Strings are used as-is, booleans become "true" or "false", and numbers
// use the shortest decimal representation. Objects, arrays, null and
// missing fields are errors.
//
// Example:
//
//	extractor := vehicleboard.JSONFieldExtractor("data.level_percent", "%")
func JSONFieldExtractor(path, suffix string) ValueExtractor {
	parts := strings.Split(path, ".")

	return func(payload []byte) (string, error) {
		var data interface{}
		if err := json.Unmarshal(payload, &data); err != nil {
			return "", fmt.Errorf("invalid JSON payload: %w", err)
		}

		value, ok := extractJSONPath(data, parts)
		if !ok {
			return "", fmt.Errorf("field %q not found", path)
		}
		return value + suffix, nil
	}
}

// extractJSONPath walks a JSON structure using dot notation parts.
func extractJSONPath(data interface{}, parts []string) (string, bool) {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = obj[part]
		if !ok {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// RegexExtractor returns a [ValueExtractor] that matches the payload
// against a regular expression pattern and returns the first capture group.
//
// Returns an error if the pattern is invalid or has no capture group.
//
// Example:
//
//	// {"data":{"level_percent": 42.5}} -> "42.5"
//	extractor, err := vehicleboard.RegexExtractor(`"level_percent":\s*([\d.]+)`)
func RegexExtractor(pattern string) (ValueExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q has no capture group", pattern)
	}

	return func(payload []byte) (string, error) {
		matches := re.FindSubmatch(payload)
		if len(matches) < 2 {
			return "", fmt.Errorf("pattern %q did not match", pattern)
		}
		return string(matches[1]), nil
	}, nil
}

// MustRegexExtractor is like [RegexExtractor] but panics if the pattern
// is invalid.
//
// Use this for compile-time constant patterns where you want to fail fast
// on invalid regex. For runtime patterns, use [RegexExtractor] instead.
func MustRegexExtractor(pattern string) ValueExtractor {
	extractor, err := RegexExtractor(pattern)
	if err != nil {
		panic("vehicleboard: invalid regex pattern: " + err.Error())
	}
	return extractor
}

// FirstMatch returns a [ValueExtractor] that tries multiple extractors in
// order, returning the first value extracted without error.
//
// If every extractor fails, the joined errors are returned.
//
// Example:
//
//	// gateways report the state as headlight_state or as a bare status
//	extractor := vehicleboard.FirstMatch(
//	    vehicleboard.JSONFieldExtractor("data.headlight_state", ""),
//	    vehicleboard.JSONFieldExtractor("data.status", ""),
//	)
func FirstMatch(extractors ...ValueExtractor) ValueExtractor {
	return func(payload []byte) (string, error) {
		var errs []error
		for _, extractor := range extractors {
			value, err := extractor(payload)
			if err == nil {
				return value, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return "", errors.New("no extractors configured")
		}
		return "", errors.Join(errs...)
	}
}

// DefaultFuelExtractor reads data.level_percent and renders it as a
// percentage, e.g. "42.5%".
var DefaultFuelExtractor = JSONFieldExtractor("data.level_percent", "%")

// DefaultHeadlightExtractor reads the headlight state as "true" or "false".
var DefaultHeadlightExtractor = FirstMatch(
	JSONFieldExtractor("data.headlight_state", ""),
	JSONFieldExtractor("data.status", ""),
)
