package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/moalsayed95/zalanko/internal/tool"
)

// register adds a tool to a fresh registry and returns its registration.
func register(t *testing.T, schema *jsonschema.Schema, handler tool.Handler, v tool.Visibility) *tool.Registration {
	t.Helper()
	reg := tool.NewRegistry()
	if err := reg.Register("search", "search the catalog", schema, handler, v); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r, err := reg.Lookup("search")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return r
}

func TestDispatcher_InvokesHandlerExactlyOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	r := register(t, nil, func(_ context.Context, args map[string]any) (any, error) {
		calls++
		return map[string]any{"echo": args["query"]}, nil
	}, tool.ToBoth)

	d := tool.NewDispatcher()
	res := d.Invoke(context.Background(), r, `{"query":"jacket"}`)

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if !res.OK() {
		t.Fatalf("result error = %+v, want success", res.Err)
	}
	if res.Tool != "search" || res.Visibility != tool.ToBoth {
		t.Errorf("result = %+v, want tool search visibility to-both", res)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(res.Payload()), &payload); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if payload["echo"] != "jacket" {
		t.Errorf("payload = %v, want echo=jacket", payload)
	}
}

func TestDispatcher_InvalidJSONArguments(t *testing.T) {
	t.Parallel()

	invoked := false
	r := register(t, nil, func(_ context.Context, _ map[string]any) (any, error) {
		invoked = true
		return nil, nil
	}, tool.ToModel)

	d := tool.NewDispatcher()
	res := d.Invoke(context.Background(), r, `{{{`)

	if invoked {
		t.Error("handler must not run on unparseable arguments")
	}
	if res.OK() || res.Err.Kind != tool.KindInvalidArguments {
		t.Errorf("result = %+v, want InvalidArguments", res)
	}
}

func TestDispatcher_SchemaValidationFailure(t *testing.T) {
	t.Parallel()

	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {Type: "string"},
		},
		Required: []string{"query"},
	}
	invoked := false
	r := register(t, schema, func(_ context.Context, _ map[string]any) (any, error) {
		invoked = true
		return nil, nil
	}, tool.ToModel)

	d := tool.NewDispatcher()
	res := d.Invoke(context.Background(), r, `{"wrong_field":1}`)

	if invoked {
		t.Error("handler must not run when arguments fail schema validation")
	}
	if res.OK() || res.Err.Kind != tool.KindInvalidArguments {
		t.Errorf("result = %+v, want InvalidArguments", res)
	}
}

func TestDispatcher_EmptyArgumentsMeansEmptyObject(t *testing.T) {
	t.Parallel()

	r := register(t, nil, func(_ context.Context, args map[string]any) (any, error) {
		if len(args) != 0 {
			t.Errorf("args = %v, want empty", args)
		}
		return "ok", nil
	}, tool.ToModel)

	d := tool.NewDispatcher()
	if res := d.Invoke(context.Background(), r, ""); !res.OK() {
		t.Errorf("result = %+v, want success", res.Err)
	}
}

func TestDispatcher_HandlerErrorBecomesHandlerFailure(t *testing.T) {
	t.Parallel()

	r := register(t, nil, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("catalog unavailable")
	}, tool.ToBoth)

	d := tool.NewDispatcher()
	res := d.Invoke(context.Background(), r, "{}")

	if res.OK() || res.Err.Kind != tool.KindHandlerFailure {
		t.Fatalf("result = %+v, want HandlerFailure", res)
	}

	var payload struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(res.Payload()), &payload); err != nil {
		t.Fatalf("error payload not valid JSON: %v", err)
	}
	if payload.Error.Kind != "HandlerFailure" {
		t.Errorf("payload kind = %q, want HandlerFailure", payload.Error.Kind)
	}
}

func TestDispatcher_HandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	r := register(t, nil, func(_ context.Context, _ map[string]any) (any, error) {
		panic("boom")
	}, tool.ToBoth)

	d := tool.NewDispatcher()
	res := d.Invoke(context.Background(), r, "{}")

	if res.OK() || res.Err.Kind != tool.KindHandlerFailure {
		t.Errorf("result = %+v, want HandlerFailure after panic", res)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	t.Parallel()

	r := register(t, nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, tool.ToBoth)

	d := tool.NewDispatcher(tool.WithTimeout(20 * time.Millisecond))
	start := time.Now()
	res := d.Invoke(context.Background(), r, "{}")

	if res.OK() || res.Err.Kind != tool.KindHandlerFailure {
		t.Errorf("result = %+v, want HandlerFailure on timeout", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Invoke blocked %v, want prompt timeout", elapsed)
	}
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	r := register(t, nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, tool.ToBoth)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	d := tool.NewDispatcher()
	res := d.Invoke(ctx, r, "{}")
	if res.OK() || res.Err.Kind != tool.KindHandlerFailure {
		t.Errorf("result = %+v, want HandlerFailure on cancellation", res)
	}
}

func TestResult_PayloadOfUnencodableValue(t *testing.T) {
	t.Parallel()

	res := tool.Result{Tool: "search", Value: make(chan int)}
	var payload struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(res.Payload()), &payload); err != nil {
		t.Fatalf("degraded payload not valid JSON: %v", err)
	}
	if payload.Error.Kind != "HandlerFailure" {
		t.Errorf("kind = %q, want HandlerFailure", payload.Error.Kind)
	}
}
