package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fedora-copr/rpmeta/pkg/predictor"
)

func TestRenderResultText(t *testing.T) {
	result := &predictor.Result{
		Prediction:    12,
		Unit:          predictor.FormatMinutes,
		Category:      "fedora-42-x86_64",
		ModelCategory: "fedora-42-x86_64",
		ModelFamily:   "gb-hist",
		ModelID:       "abc",
	}

	var buf strings.Builder
	if err := renderResult(&buf, result, "text"); err != nil {
		t.Fatalf("render text: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Prediction: 12 minutes") {
		t.Fatalf("missing prediction line in %q", out)
	}
	if !strings.Contains(out, "gb-hist") {
		t.Fatalf("missing model attribution in %q", out)
	}

	buf.Reset()
	result.Fallback = true
	result.ModelCategory = "fedora-42-aarch64"
	if err := renderResult(&buf, result, "text"); err != nil {
		t.Fatalf("render fallback text: %v", err)
	}
	if !strings.Contains(buf.String(), "default fallback") {
		t.Fatalf("fallback must be visible in %q", buf.String())
	}
}

func TestRenderResultJSON(t *testing.T) {
	result := &predictor.Result{Prediction: 3, Unit: predictor.FormatMinutes, ModelID: "abc"}

	var buf strings.Builder
	if err := renderResult(&buf, result, "json"); err != nil {
		t.Fatalf("render json: %v", err)
	}
	var decoded predictor.Result
	if err := json.Unmarshal([]byte(buf.String()), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Prediction != 3 || decoded.ModelID != "abc" {
		t.Fatalf("round trip lost fields: %+v", decoded)
	}
}

func TestRenderResultUnknownType(t *testing.T) {
	var buf strings.Builder
	if err := renderResult(&buf, &predictor.Result{}, "yaml"); err == nil {
		t.Fatal("expected error for unknown output type")
	}
}
