package parser

import (
	"context"
	"testing"

	"github.com/mdwit/spec2call/internal/model"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected model.SpecFormat
	}{
		{"openapi json", `{"openapi": "3.1.0"}`, model.FormatOpenAPI3},
		{"openapi yaml", "openapi: 3.0.3\ninfo:\n  title: x\n", model.FormatOpenAPI3},
		{"swagger yaml", "swagger: '2.0'\n", model.FormatSwagger2},
		{"introspection", `{"data": {"__schema": {"types": []}}}`, model.FormatGraphQL},
		{"bare introspection", `{"__schema": {"types": []}}`, model.FormatGraphQL},
		{"collection fingerprint", `{"info": {"schema": "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"}, "item": []}`, model.FormatCollection},
		{"collection nested request", `{"item": [{"name": "f", "item": [{"name": "r", "request": "https://x.example.com"}]}]}`, model.FormatCollection},
		{"sdl", "type Query { user(id: ID!): User }", model.FormatGraphQLSchema},
		{"sdl with comment", "# users\n\nschema { query: Q }\ntype Q { a: Int }", model.FormatGraphQLSchema},
		{"empty", "   ", model.FormatUnknown},
		{"unrelated json", `{"hello": "world"}`, model.FormatUnknown},
		{"collection without requests", `{"item": [{"name": "empty folder", "item": []}]}`, model.FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect([]byte(tt.input)); got != tt.expected {
				t.Errorf("Detect(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseDispatch(t *testing.T) {
	_, err := Parse(context.Background(), []byte(`{"hello": "world"}`), model.FormatUnknown, nil)
	if err == nil {
		t.Fatal("Expected error for unknown format")
	}

	reg, err := Parse(context.Background(), []byte("type Query { ping: String }"), model.FormatUnknown, &ParseOptions{BaseURL: "https://g.example.com"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if reg.Format != model.FormatGraphQLSchema {
		t.Errorf("Expected graphql_sdl, got %q", reg.Format)
	}
}
