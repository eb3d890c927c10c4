package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/canopyiq/canopy-gateway/internal/domain/tool"
)

func TestRegisterListsAllTools(t *testing.T) {
	r := tool.NewRegistry()
	Register(r)

	list := r.List()
	want := []string{"cloud.estimate", "cloud.ops", "fs.write"}
	if len(list) != len(want) {
		t.Fatalf("tool count = %d, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("tool %d = %q, want %q", i, list[i].Name, name)
		}
		if list[i].InputSchema == nil {
			t.Errorf("tool %q has no input schema", name)
		}
	}

	if _, err := r.Get("cloud.ops"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	var unknown *tool.UnknownToolError
	if _, err := r.Get("nope"); !errors.As(err, &unknown) {
		t.Fatalf("Get unknown tool: %v", err)
	}
}

func TestEstimate(t *testing.T) {
	res, err := Estimate(context.Background(), map[string]any{
		"provider": "aws",
		"action":   "ec2.run",
		"units":    100.0,
	}, tool.Context{Tenant: "acme"})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	cost, ok := res.StructuredContent["estimated_cost_usd"].(float64)
	if !ok || cost <= 0 {
		t.Fatalf("estimated_cost_usd = %v", res.StructuredContent["estimated_cost_usd"])
	}
	if res.StructuredContent["source"] != "static-pricebook" {
		t.Fatalf("source = %v", res.StructuredContent["source"])
	}
}

func TestEstimateUnknownAction(t *testing.T) {
	_, err := Estimate(context.Background(), map[string]any{
		"provider": "aws",
		"action":   "quantum.entangle",
		"units":    1.0,
	}, tool.Context{})
	if err == nil {
		t.Fatal("unknown action did not error")
	}
}

func TestCloudOps(t *testing.T) {
	res, err := CloudOps(context.Background(), map[string]any{
		"provider":           "gcp",
		"resource":           "gce",
		"action":             "scale",
		"estimated_cost_usd": 12.5,
	}, tool.Context{})
	if err != nil {
		t.Fatalf("CloudOps: %v", err)
	}
	if res.StructuredContent["success"] != true {
		t.Fatalf("result = %+v", res.StructuredContent)
	}
	id, _ := res.StructuredContent["resource_id"].(string)
	if len(id) == 0 {
		t.Fatal("no resource id")
	}
	if res.StructuredContent["cost_usd"] != 12.5 {
		t.Fatalf("cost = %v", res.StructuredContent["cost_usd"])
	}
}

func TestFSWrite(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("hello world"))
	res, err := FSWrite(context.Background(), map[string]any{
		"path":  "/tmp/greeting.txt",
		"bytes": payload,
	}, tool.Context{})
	if err != nil {
		t.Fatalf("FSWrite: %v", err)
	}
	if res.StructuredContent["bytes_written"] != 11 {
		t.Fatalf("bytes_written = %v", res.StructuredContent["bytes_written"])
	}
}

func TestFSWriteBadBase64(t *testing.T) {
	if _, err := FSWrite(context.Background(), map[string]any{
		"path":  "/tmp/x",
		"bytes": "!!not base64!!",
	}, tool.Context{}); err == nil {
		t.Fatal("invalid base64 did not error")
	}
}
