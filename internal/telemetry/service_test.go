package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/jpalmerr/vehicleboard/internal/gateway"
	"github.com/jpalmerr/vehicleboard/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	fuel      json.RawMessage
	headlight json.RawMessage
	err       error
	calls     atomic.Int32
	lastSet   any
}

func (f *fakeGateway) FetchFuelLevel(ctx context.Context) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.fuel, f.err
}

func (f *fakeGateway) FetchHeadlightState(ctx context.Context) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.headlight, f.err
}

func (f *fakeGateway) SetHeadlightState(ctx context.Context, state any) (json.RawMessage, error) {
	f.calls.Add(1)
	f.lastSet = state
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"data":{"status":true}}`), nil
}

func fuelValue(payload []byte) (string, error) {
	var msg struct {
		Data struct {
			Level *float64 `json:"level_percent"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	if msg.Data.Level == nil {
		return "", errors.New("level_percent missing")
	}
	return strconv.FormatFloat(*msg.Data.Level, 'f', -1, 64) + "%", nil
}

func headlightValue(payload []byte) (string, error) {
	var msg struct {
		Data struct {
			State *bool `json:"headlight_state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	if msg.Data.State == nil {
		return "", errors.New("headlight_state missing")
	}
	return strconv.FormatBool(*msg.Data.State), nil
}

func newTestService(gw *fakeGateway, cache store.Store) *Service {
	svc := NewService(gw, cache, map[string]Extractor{
		KeyFuelLevel:  fuelValue,
		KeyHeadlights: headlightValue,
	}, testLogger())
	svc.now = func() time.Time { return time.Unix(1700000000, 500_000_000) }
	return svc
}

func TestService_RequestValue(t *testing.T) {
	gw := &fakeGateway{fuel: json.RawMessage(`{"data":{"level_percent":42.5}}`)}
	cache := store.NewMemoryStore()
	svc := newTestService(gw, cache)

	got, err := svc.RequestValue(context.Background(), KeyFuelLevel)
	if err != nil {
		t.Fatalf("RequestValue() error = %v", err)
	}

	want := Result{Status: "success", Data: Reading{Key: "fuel_level", Value: "42.5%"}}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}

	rec, ok := cache.Get(KeyFuelLevel)
	if !ok {
		t.Fatal("fuel_level not cached")
	}
	wantRec := store.Record{
		Value:     "42.5%",
		Timestamp: 1700000000.5,
		Raw:       json.RawMessage(`{"data":{"level_percent":42.5}}`),
	}
	if diff := deep.Equal(rec, wantRec); diff != nil {
		t.Error(diff)
	}
}

func TestService_RequestValue_Validation(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(gw, store.NewMemoryStore())

	tests := []struct {
		key     string
		wantMsg string
	}{
		{key: "", wantMsg: "No data key provided"},
		{key: "tyre_pressure", wantMsg: "Unsupported data key: tyre_pressure"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			_, err := svc.RequestValue(context.Background(), tt.key)
			if !gateway.IsValidation(err) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}

	if got := gw.calls.Load(); got != 0 {
		t.Errorf("gateway calls = %d, want 0", got)
	}
}

func TestService_RequestValue_GatewayError(t *testing.T) {
	gw := &fakeGateway{err: &gateway.ConnectionError{Op: "GET", Err: errors.New("refused")}}
	cache := store.NewMemoryStore()
	svc := newTestService(gw, cache)

	_, err := svc.RequestValue(context.Background(), KeyFuelLevel)
	if !gateway.IsConnection(err) {
		t.Errorf("error = %v, want *ConnectionError", err)
	}
	if _, ok := cache.Get(KeyFuelLevel); ok {
		t.Error("failed request wrote to the cache")
	}
}

func TestService_RequestValue_BadPayload(t *testing.T) {
	gw := &fakeGateway{fuel: json.RawMessage(`{"data":{}}`)}
	svc := newTestService(gw, store.NewMemoryStore())

	_, err := svc.RequestValue(context.Background(), KeyFuelLevel)
	var reqErr *gateway.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %T (%v), want *RequestError", err, err)
	}
}

func TestService_HeadlightState(t *testing.T) {
	gw := &fakeGateway{headlight: json.RawMessage(`{"data":{"headlight_state":true}}`)}
	cache := store.NewMemoryStore()
	svc := newTestService(gw, cache)

	got, err := svc.HeadlightState(context.Background())
	if err != nil {
		t.Fatalf("HeadlightState() error = %v", err)
	}
	want := Result{Status: "success", Data: Reading{Key: "headlights", Value: true}}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}

	if rec, _ := cache.Get(KeyHeadlights); rec.Value != "true" {
		t.Errorf("cached Value = %q, want true", rec.Value)
	}
}

func TestService_HeadlightState_CustomDisplayValue(t *testing.T) {
	onOff := func(payload []byte) (string, error) {
		v, err := headlightValue(payload)
		if err != nil {
			return "", err
		}
		if v == "true" {
			return "on", nil
		}
		return "off", nil
	}

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "headlight_state on", payload: `{"data":{"headlight_state":true}}`, want: true},
		{name: "headlight_state off", payload: `{"data":{"headlight_state":false}}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{headlight: json.RawMessage(tt.payload)}
			cache := store.NewMemoryStore()
			svc := NewService(gw, cache, map[string]Extractor{
				KeyHeadlights: onOff,
			}, testLogger())

			got, err := svc.HeadlightState(context.Background())
			if err != nil {
				t.Fatalf("HeadlightState() error = %v", err)
			}
			want := Result{Status: "success", Data: Reading{Key: "headlights", Value: tt.want}}
			if diff := deep.Equal(got, want); diff != nil {
				t.Error(diff)
			}

			// the display value is still what the extractor produced
			rec, _ := cache.Get(KeyHeadlights)
			if rec.Value != "on" && rec.Value != "off" {
				t.Errorf("cached Value = %q, want on/off", rec.Value)
			}
		})
	}
}

func TestHeadlightOn(t *testing.T) {
	tests := []struct {
		name    string
		rec     store.Record
		want    bool
		wantErr bool
	}{
		{name: "headlight_state", rec: store.Record{Value: "on", Raw: json.RawMessage(`{"data":{"headlight_state":true}}`)}, want: true},
		{name: "status", rec: store.Record{Value: "off", Raw: json.RawMessage(`{"data":{"status":false}}`)}, want: false},
		{name: "display value fallback", rec: store.Record{Value: "true", Raw: json.RawMessage(`{"data":{}}`)}, want: true},
		{name: "no boolean anywhere", rec: store.Record{Value: "on", Raw: json.RawMessage(`{"data":{"headlight_state":"on"}}`)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := headlightOn(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("headlightOn() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("headlightOn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_SetHeadlightState(t *testing.T) {
	gw := &fakeGateway{}
	cache := store.NewMemoryStore()
	svc := newTestService(gw, cache)

	got, err := svc.SetHeadlightState(context.Background(), false)
	if err != nil {
		t.Fatalf("SetHeadlightState() error = %v", err)
	}
	want := Result{Status: "success", Data: Reading{Key: "headlights", Value: false}}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
	if gw.lastSet != false {
		t.Errorf("gateway received %v, want false", gw.lastSet)
	}
	if rec, _ := cache.Get(KeyHeadlights); rec.Value != "false" {
		t.Errorf("cached Value = %q, want false", rec.Value)
	}
}

func TestService_SetHeadlightState_RejectsNonBoolean(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(gw, store.NewMemoryStore())

	for _, v := range []any{"true", 1, nil, 0.0, []any{true}} {
		_, err := svc.SetHeadlightState(context.Background(), v)
		if !gateway.IsValidation(err) {
			t.Errorf("SetHeadlightState(%#v) error = %v, want *ValidationError", v, err)
		}
	}
	if got := gw.calls.Load(); got != 0 {
		t.Errorf("gateway calls = %d, want 0", got)
	}
}

func TestService_Keys(t *testing.T) {
	svc := NewService(&fakeGateway{}, store.NewMemoryStore(), map[string]Extractor{
		KeyFuelLevel: fuelValue,
		"unknown":    fuelValue,
	}, testLogger())

	if diff := deep.Equal(svc.Keys(), []string{"fuel_level"}); diff != nil {
		t.Error(diff)
	}
	if svc.Supports(KeyHeadlights) {
		t.Error("headlights supported without an extractor")
	}
}

func TestService_Snapshot(t *testing.T) {
	cache := store.NewMemoryStore()
	cache.Update("fuel_level", store.Record{Value: "1%"})
	svc := newTestService(&fakeGateway{}, cache)

	if got := svc.Snapshot(); len(got) != 1 || got["fuel_level"].Value != "1%" {
		t.Errorf("Snapshot() = %+v", got)
	}
}
