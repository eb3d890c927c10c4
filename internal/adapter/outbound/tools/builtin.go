// Package tools provides the built-in mock tool handlers: a static cloud
// cost estimator, a mock cloud operations executor, and a mock filesystem
// writer. They exist to exercise the policy and approval paths end to end.
package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/canopyiq/canopy-gateway/internal/domain/tool"
)

type price struct {
	USDPerUnit float64
	Unit       string
}

// Static pricebook for cloud.estimate. Values are rough and only need to
// be stable.
var pricebook = map[string]map[string]price{
	"aws": {
		"ec2.run":     {USDPerUnit: 0.0416, Unit: "instance-hour"},
		"s3.put":      {USDPerUnit: 0.000005, Unit: "request"},
		"rds.run":     {USDPerUnit: 0.096, Unit: "instance-hour"},
		"lambda.exec": {USDPerUnit: 0.0000002, Unit: "invocation"},
	},
	"gcp": {
		"gce.run":  {USDPerUnit: 0.0475, Unit: "instance-hour"},
		"gcs.put":  {USDPerUnit: 0.000005, Unit: "request"},
		"bq.query": {USDPerUnit: 5.0, Unit: "TiB-scanned"},
	},
	"azure": {
		"vm.run":    {USDPerUnit: 0.0496, Unit: "instance-hour"},
		"blob.put":  {USDPerUnit: 0.0000065, Unit: "request"},
		"aks.scale": {USDPerUnit: 0.10, Unit: "node-hour"},
	},
}

// Register adds the built-in tools to a registry.
func Register(r *tool.Registry) {
	r.Register(estimateDescriptor, Estimate)
	r.Register(cloudOpsDescriptor, CloudOps)
	r.Register(fsWriteDescriptor, FSWrite)
}

var estimateDescriptor = tool.Descriptor{
	Name:        "cloud.estimate",
	Title:       "Cloud Cost Estimator",
	Description: "Rough, static estimator for cloud ops; use before cloud.ops",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider": map[string]any{"type": "string", "enum": []string{"aws", "gcp", "azure"}},
			"action":   map[string]any{"type": "string"},
			"units":    map[string]any{"type": "number", "minimum": 0},
		},
		"required": []string{"provider", "action", "units"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"estimated_cost_usd": map[string]any{"type": "number"},
			"unit":               map[string]any{"type": "string"},
			"usd_per_unit":       map[string]any{"type": "number"},
			"source":             map[string]any{"type": "string"},
		},
		"required": []string{"estimated_cost_usd"},
	},
}

// Estimate looks the action up in the static pricebook and multiplies.
func Estimate(ctx context.Context, args map[string]any, tc tool.Context) (*tool.Result, error) {
	provider, _ := args["provider"].(string)
	action, _ := args["action"].(string)
	units := floatArg(args, "units")

	ent, ok := pricebook[provider][action]
	if !ok {
		return nil, fmt.Errorf("no price mapping for %s.%s", provider, action)
	}

	est := math.Round(ent.USDPerUnit*units*10000) / 10000
	r := tool.Text(fmt.Sprintf("Estimated cost: $%.4f (%s at $%g/%s)", est, action, ent.USDPerUnit, ent.Unit))
	r.StructuredContent = map[string]any{
		"estimated_cost_usd": est,
		"unit":               ent.Unit,
		"usd_per_unit":       ent.USDPerUnit,
		"source":             "static-pricebook",
	}
	return r, nil
}

var cloudOpsDescriptor = tool.Descriptor{
	Name:        "cloud.ops",
	Title:       "Cloud Operations",
	Description: "Execute cloud operations (mock implementation)",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider":           map[string]any{"type": "string", "enum": []string{"aws", "gcp", "azure"}},
			"resource":           map[string]any{"type": "string"},
			"action":             map[string]any{"type": "string"},
			"estimated_cost_usd": map[string]any{"type": "number", "minimum": 0},
		},
		"required": []string{"provider", "resource", "action"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":     map[string]any{"type": "boolean"},
			"resource_id": map[string]any{"type": "string"},
			"cost_usd":    map[string]any{"type": "number"},
		},
		"required": []string{"success"},
	},
}

// CloudOps pretends to execute a cloud operation and fabricates a
// resource id.
func CloudOps(ctx context.Context, args map[string]any, tc tool.Context) (*tool.Result, error) {
	provider, _ := args["provider"].(string)
	resource, _ := args["resource"].(string)
	action, _ := args["action"].(string)
	cost := floatArg(args, "estimated_cost_usd")

	resourceID := fmt.Sprintf("%s-%s-%s", provider, resource, uuid.NewString()[:8])
	r := tool.Text(fmt.Sprintf("Executed %s on %s: %s", action, provider, resourceID))
	r.StructuredContent = map[string]any{
		"success":     true,
		"resource_id": resourceID,
		"cost_usd":    cost,
		"provider":    provider,
		"action":      action,
	}
	return r, nil
}

var fsWriteDescriptor = tool.Descriptor{
	Name:        "fs.write",
	Title:       "File System Write",
	Description: "Write data to filesystem (mock implementation)",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string"},
			"bytes": map[string]any{"type": "string", "description": "Base64 encoded data"},
		},
		"required": []string{"path", "bytes"},
	},
	OutputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":       map[string]any{"type": "boolean"},
			"bytes_written": map[string]any{"type": "number"},
		},
		"required": []string{"success"},
	},
}

// FSWrite decodes the payload and reports the size. Nothing touches the
// real filesystem.
func FSWrite(ctx context.Context, args map[string]any, tc tool.Context) (*tool.Result, error) {
	path, _ := args["path"].(string)
	encoded, _ := args["bytes"].(string)

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode bytes: %w", err)
	}

	r := tool.Text(fmt.Sprintf("Wrote %d bytes to %s", len(data), path))
	r.StructuredContent = map[string]any{
		"success":       true,
		"bytes_written": len(data),
		"path":          path,
	}
	return r, nil
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
