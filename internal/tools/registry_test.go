package tools_test

import (
	"context"
	"errors"
	"testing"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/tools"
	mdmock "github.com/finch-ai/finch/pkg/provider/marketdata/mock"
	researchmock "github.com/finch-ai/finch/pkg/provider/research/mock"
)

// stubTool is a minimal tool for registry tests.
type stubTool struct {
	spec tools.Spec
}

func (s *stubTool) Spec() tools.Spec { return s.spec }
func (s *stubTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	return "ok", nil
}

func newStub(name string) *stubTool {
	return &stubTool{spec: tools.Spec{
		Name: name,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol": map[string]any{"type": "string", "minLength": 1},
			},
			"required":             []any{"symbol"},
			"additionalProperties": false,
		},
	}}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()
	r := tools.NewRegistry()
	if err := r.Register(newStub("get_quote")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.Get("get_quote"); !ok {
		t.Error("registered tool not found")
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("unknown tool reported as found")
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	t.Parallel()
	r := tools.NewRegistry()
	if err := r.Register(newStub("get_quote")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(newStub("get_quote")); err == nil {
		t.Fatal("expected error for duplicate tool name")
	}
}

func TestRegistry_SpecsPreserveRegistrationOrder(t *testing.T) {
	t.Parallel()
	r := tools.NewRegistry()
	names := []string{"c_tool", "a_tool", "b_tool"}
	for _, n := range names {
		if err := r.Register(newStub(n)); err != nil {
			t.Fatal(err)
		}
	}
	specs := r.Specs()
	if len(specs) != 3 {
		t.Fatalf("Specs len = %d, want 3", len(specs))
	}
	for i, n := range names {
		if specs[i].Name != n {
			t.Errorf("specs[%d].Name = %q, want %q", i, specs[i].Name, n)
		}
	}
}

func TestRegistry_ValidateInput(t *testing.T) {
	t.Parallel()
	r := tools.NewRegistry()
	if err := r.Register(newStub("get_quote")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		tool    string
		input   map[string]any
		wantErr bool
	}{
		{"valid", "get_quote", map[string]any{"symbol": "INFY"}, false},
		{"missing required", "get_quote", map[string]any{}, true},
		{"nil input missing required", "get_quote", nil, true},
		{"wrong type", "get_quote", map[string]any{"symbol": 42}, true},
		{"unexpected property", "get_quote", map[string]any{"symbol": "INFY", "extra": true}, true},
		{"unknown tool", "no_such_tool", map[string]any{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.ValidateInput(tc.tool, tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !errors.Is(err, fault.ErrValidation) {
					t.Errorf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRegisterDefaults_SkipsNilProviders(t *testing.T) {
	t.Parallel()
	r := tools.NewRegistry()
	if err := tools.RegisterDefaults(r, &mdmock.Provider{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	names := r.Names()
	want := []string{"get_quote", "get_history", "get_market_overview"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegisterDefaults_AllProviders(t *testing.T) {
	t.Parallel()
	r := tools.NewRegistry()
	err := tools.RegisterDefaults(r, &mdmock.Provider{}, &researchmock.Provider{}, stubSource{})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(r.Names()); got != 8 {
		t.Errorf("registered %d tools, want 8: %v", got, r.Names())
	}
}
