package mapper_test

import (
	"math"
	"testing"

	"github.com/facebridge-ai/facebridge/internal/curve"
	"github.com/facebridge-ai/facebridge/internal/mapper"
	"github.com/facebridge-ai/facebridge/internal/tracking"
)

func frame(params ...tracking.Param) tracking.Frame {
	return tracking.Frame{FaceFound: true, Params: params}
}

func TestApplyExpression(t *testing.T) {
	m, err := mapper.New([]mapper.Rule{
		{ParamID: "MouthOpen", Expr: "value * 2"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := m.Apply(frame(
		tracking.Param{ID: "MouthOpen", Value: 0.2},
		tracking.Param{ID: "EyeLeftX", Value: 0.7},
	))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if math.Abs(out.Params[0].Value-0.4) > 1e-9 {
		t.Fatalf("mapped value = %v, want 0.4", out.Params[0].Value)
	}
	// Unmapped parameters pass through untouched.
	if out.Params[1].Value != 0.7 {
		t.Fatalf("unmapped value changed: %v", out.Params[1].Value)
	}
}

func TestApplyUsesFaceFlag(t *testing.T) {
	m, err := mapper.New([]mapper.Rule{
		{ParamID: "MouthOpen", Expr: "face ? value : 0"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	in := tracking.Frame{FaceFound: false, Params: []tracking.Param{{ID: "MouthOpen", Value: 0.9}}}
	out, err := m.Apply(in)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Params[0].Value != 0 {
		t.Fatalf("expected 0 with no face, got %v", out.Params[0].Value)
	}
}

func TestApplyCurveShaping(t *testing.T) {
	m, err := mapper.New([]mapper.Rule{
		{ParamID: "MouthOpen", Curve: curve.Clamped(curve.Linear)},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := m.Apply(frame(tracking.Param{ID: "MouthOpen", Value: 1.7}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Params[0].Value != 1 {
		t.Fatalf("expected clamp to 1, got %v", out.Params[0].Value)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	m, err := mapper.New([]mapper.Rule{
		{ParamID: "MouthOpen", Expr: "0.5"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	in := frame(tracking.Param{ID: "MouthOpen", Value: 0.1})
	if _, err := m.Apply(in); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if in.Params[0].Value != 0.1 {
		t.Fatalf("input frame mutated: %v", in.Params[0].Value)
	}
}

func TestCompileErrorSurfacesAtConstruction(t *testing.T) {
	if _, err := mapper.New([]mapper.Rule{{ParamID: "Broken", Expr: "value +"}}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEvaluationErrorAbortsFrame(t *testing.T) {
	m, err := mapper.New([]mapper.Rule{
		{ParamID: "MouthOpen", Expr: "undefinedFunction(value)"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := m.Apply(frame(tracking.Param{ID: "MouthOpen", Value: 0.5})); err == nil {
		t.Fatal("expected evaluation error")
	}
}

func TestNilMapperPassesThrough(t *testing.T) {
	var m *mapper.Mapper
	in := frame(tracking.Param{ID: "MouthOpen", Value: 0.3})
	out, err := m.Apply(in)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Params[0].Value != 0.3 {
		t.Fatalf("passthrough altered value: %v", out.Params[0].Value)
	}
}
