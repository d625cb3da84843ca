package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"go-garment-ingest/pkg/dataurl"
)

// containerRule locates the per-provider object inside an upstream response.
type containerRule struct {
	tag  string
	find func(body map[string]interface{}, provider string) map[string]interface{}
}

// Rules are tried in order; the first container holding a usable field wins.
var containerRules = []containerRule{
	{
		tag: "provider-key",
		find: func(body map[string]interface{}, provider string) map[string]interface{} {
			m, _ := body[provider].(map[string]interface{})
			return m
		},
	},
	{
		tag: "items",
		find: func(body map[string]interface{}, provider string) map[string]interface{} {
			items, _ := body["items"].([]interface{})
			for _, item := range items {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if name, _ := m["provider"].(string); NormalizeName(name) == provider {
					return m
				}
			}
			return nil
		},
	},
	{
		tag: "result",
		find: func(body map[string]interface{}, provider string) map[string]interface{} {
			result, _ := body["result"].(map[string]interface{})
			m, _ := result[provider].(map[string]interface{})
			return m
		},
	},
}

var imageFields = []string{
	"image",
	"image_b64",
	"image_base64",
	"image_resource_url",
	"image_url",
	"output",
}

// Extraction reports which rule produced the image.
type Extraction struct {
	Image     string
	Container string
	Field     string
}

// ExtractImage pulls the result image for provider out of a raw upstream
// response body.
func ExtractImage(provider string, raw []byte) (*Extraction, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	provider = NormalizeName(provider)

	for _, rule := range containerRules {
		container := rule.find(body, provider)
		if container == nil {
			continue
		}
		for _, field := range imageFields {
			value, _ := container[field].(string)
			if strings.TrimSpace(value) == "" {
				continue
			}
			normalized, ok := normalizeImageValue(value)
			if !ok {
				continue
			}
			return &Extraction{Image: normalized, Container: rule.tag, Field: field}, nil
		}
	}

	if status := providerStatus(body, provider); status != "" {
		return nil, fmt.Errorf("no image in upstream response (provider status %q)", status)
	}
	return nil, fmt.Errorf("no image in upstream response")
}

// normalizeImageValue accepts data URLs and http(s) URLs as is and wraps a
// bare base64 payload as PNG.
func normalizeImageValue(value string) (string, bool) {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return value, true
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return value, true
	case dataurl.LooksLikeBase64(value):
		return "data:image/png;base64," + value, true
	}
	return "", false
}

func providerStatus(body map[string]interface{}, provider string) string {
	m, _ := body[provider].(map[string]interface{})
	status, _ := m["status"].(string)
	return status
}
