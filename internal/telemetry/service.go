package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jpalmerr/vehicleboard/internal/gateway"
	"github.com/jpalmerr/vehicleboard/internal/store"
)

// Telemetry keys with a one-shot gateway endpoint.
const (
	KeyFuelLevel  = "fuel_level"
	KeyHeadlights = "headlights"
)

// StatusSuccess is the status reported by every successful operation.
const StatusSuccess = "success"

// Extractor derives the display value stored in the cache from a payload.
type Extractor func(payload []byte) (string, error)

// Gateway is the subset of the gateway client used by [Service].
type Gateway interface {
	FetchFuelLevel(ctx context.Context) (json.RawMessage, error)
	FetchHeadlightState(ctx context.Context) (json.RawMessage, error)
	SetHeadlightState(ctx context.Context, state any) (json.RawMessage, error)
}

// Reading is one keyed value returned to callers.
type Reading struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Result is the response shape of every [Service] operation.
type Result struct {
	Status string  `json:"status"`
	Data   Reading `json:"data"`
}

// Service answers one-shot telemetry requests: it fetches from the gateway,
// derives a display value, and records the result in the shared cache.
type Service struct {
	gw         Gateway
	cache      store.Store
	fetchers   map[string]func(context.Context) (json.RawMessage, error)
	extractors map[string]Extractor
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a [Service]. extractors maps each supported key to
// the function deriving its display value; keys without an extractor or
// without a gateway endpoint are unsupported.
func NewService(gw Gateway, cache store.Store, extractors map[string]Extractor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gw:    gw,
		cache: cache,
		fetchers: map[string]func(context.Context) (json.RawMessage, error){
			KeyFuelLevel:  gw.FetchFuelLevel,
			KeyHeadlights: gw.FetchHeadlightState,
		},
		extractors: extractors,
		logger:     logger,
		now:        time.Now,
	}
}

// Keys returns the supported telemetry keys in sorted order.
func (s *Service) Keys() []string {
	var keys []string
	for k := range s.fetchers {
		if _, ok := s.extractors[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Supports reports whether key can be requested.
func (s *Service) Supports(key string) bool {
	_, hasFetch := s.fetchers[key]
	_, hasExtract := s.extractors[key]
	return hasFetch && hasExtract
}

// Refresh fetches key from the gateway, stores the derived record in the
// cache and returns it.
func (s *Service) Refresh(ctx context.Context, key string) (store.Record, error) {
	if key == "" {
		return store.Record{}, &gateway.ValidationError{Reason: "No data key provided"}
	}
	if !s.Supports(key) {
		return store.Record{}, &gateway.ValidationError{Reason: "Unsupported data key: " + key}
	}

	raw, err := s.fetchers[key](ctx)
	if err != nil {
		s.logger.Error("error requesting telemetry", "key", key, "error", err)
		return store.Record{}, err
	}

	value, err := s.extractors[key](raw)
	if err != nil {
		s.logger.Error("unexpected telemetry payload", "key", key, "error", err)
		return store.Record{}, &gateway.RequestError{Msg: fmt.Sprintf("unexpected %s payload", key), Err: err}
	}

	rec := store.Record{
		Value:     value,
		Timestamp: epochSeconds(s.now()),
		Raw:       raw,
	}
	s.cache.Update(key, rec)
	return rec, nil
}

// RequestValue fetches key now and returns its derived value.
func (s *Service) RequestValue(ctx context.Context, key string) (Result, error) {
	rec, err := s.Refresh(ctx, key)
	if err != nil {
		return Result{}, err
	}
	return success(key, rec.Value), nil
}

// Snapshot returns every cached record.
func (s *Service) Snapshot() map[string]store.Record {
	return s.cache.GetAll()
}

// HeadlightState fetches the headlight state and reports it as a boolean.
// The boolean comes from the payload's data.headlight_state (or
// data.status), so a custom display extractor does not change it.
func (s *Service) HeadlightState(ctx context.Context) (Result, error) {
	rec, err := s.Refresh(ctx, KeyHeadlights)
	if err != nil {
		return Result{}, err
	}
	on, err := headlightOn(rec)
	if err != nil {
		return Result{}, &gateway.RequestError{Msg: "headlight state is not a boolean", Err: err}
	}
	return success(KeyHeadlights, on), nil
}

// headlightOn reads the boolean state from the raw payload, falling back to
// the cached display value.
func headlightOn(rec store.Record) (bool, error) {
	var msg struct {
		Data struct {
			HeadlightState *bool `json:"headlight_state"`
			Status         *bool `json:"status"`
		} `json:"data"`
	}
	// non-boolean fields fail the decode; the display value is tried next
	if err := json.Unmarshal(rec.Raw, &msg); err == nil {
		switch {
		case msg.Data.HeadlightState != nil:
			return *msg.Data.HeadlightState, nil
		case msg.Data.Status != nil:
			return *msg.Data.Status, nil
		}
	}
	return strconv.ParseBool(rec.Value)
}

// SetHeadlightState switches the headlights. value must be a bool; anything
// else is rejected with a [gateway.ValidationError] before the gateway is
// contacted.
func (s *Service) SetHeadlightState(ctx context.Context, value any) (Result, error) {
	on, ok := value.(bool)
	if !ok {
		return Result{}, &gateway.ValidationError{Reason: "Expected a boolean for 'turn_on'"}
	}

	raw, err := s.gw.SetHeadlightState(ctx, on)
	if err != nil {
		s.logger.Error("error setting headlight state", "turn_on", on, "error", err)
		return Result{}, err
	}

	s.cache.Update(KeyHeadlights, store.Record{
		Value:     strconv.FormatBool(on),
		Timestamp: epochSeconds(s.now()),
		Raw:       raw,
	})
	return success(KeyHeadlights, on), nil
}

func success(key string, value any) Result {
	return Result{Status: StatusSuccess, Data: Reading{Key: key, Value: value}}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
