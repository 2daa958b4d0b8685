package tools

import (
	"encoding/json"
	"testing"
)

func TestSummarizeResponseOmitsErrorOnSuccess(t *testing.T) {
	resp := SummarizeResponse{
		Status:           StatusSuccess,
		Summary:          "Short.",
		Model:            "facebook/bart-large-cnn",
		OriginalWords:    10,
		SummaryWords:     1,
		CompressionRatio: 0.9,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal SummarizeResponse: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON into map: %v", err)
	}

	for _, key := range []string{"error", "error_code", "id", "fallback_reason"} {
		if _, ok := jsonMap[key]; ok {
			t.Errorf("expected %q to be omitted, got %v", key, jsonMap[key])
		}
	}
	for _, key := range []string{"status", "summary", "compression_ratio", "used_fallback", "truncated"} {
		if _, ok := jsonMap[key]; !ok {
			t.Errorf("expected %q to be present", key)
		}
	}
}

func TestSummarizeRequestModelIsOptional(t *testing.T) {
	var req SummarizeRequest
	if err := json.Unmarshal([]byte(`{"text":"hello"}`), &req); err != nil {
		t.Fatalf("Failed to unmarshal SummarizeRequest: %v", err)
	}
	if req.Text != "hello" || req.Model != "" {
		t.Errorf("unexpected request %+v", req)
	}
}
