package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mdwit/spec2call/internal/model"
)

// maxIntrospectionSize предел размера ответа introspection
const maxIntrospectionSize = 32 << 20

// IntrospectionQuery единственный поддерживаемый запрос introspection
const IntrospectionQuery = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    types {
      kind
      name
      fields(includeDeprecated: true) {
        name
        description
        isDeprecated
        deprecationReason
        args {
          name
          description
          defaultValue
          type { ...TypeRef }
        }
        type { ...TypeRef }
      }
    }
  }
}

fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
            ofType {
              kind
              name
            }
          }
        }
      }
    }
  }
}`

type introspectionSchema struct {
	QueryType    *struct{ Name string } `json:"queryType"`
	MutationType *struct{ Name string } `json:"mutationType"`
	Types        []struct {
		Kind   string     `json:"kind"`
		Name   string     `json:"name"`
		Fields []gqlField `json:"fields"`
	} `json:"types"`
}

type introspectionResponse struct {
	Data *struct {
		Schema *introspectionSchema `json:"__schema"`
	} `json:"data"`
	// сохранённые результаты иногда содержат __schema без обёртки data
	Schema *introspectionSchema `json:"__schema"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Introspect выполняет introspection-запрос к живому GraphQL endpoint и строит регистрацию.
// Отмена ctx прерывает запрос.
func Introspect(ctx context.Context, client *http.Client, endpointURL string, opts *ParseOptions) (*model.Registration, error) {
	opts = opts.withDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger.With(zap.String("endpoint", endpointURL))

	payload, err := json.Marshal(map[string]string{"query": IntrospectionQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to encode introspection query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErr(model.FormatGraphQL, nil, "introspection returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIntrospectionSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read introspection response: %w", err)
	}
	logger.Debug("introspection response received", zap.Int("bytes", len(data)))

	schema, err := decodeIntrospection(data, true)
	if err != nil {
		return nil, err
	}
	if opts.SourceURL == "" {
		opts.SourceURL = endpointURL
	}
	return buildIntrospection(schema, endpointURL, opts)
}

// ParseIntrospection строит регистрацию из сохранённого результата introspection
func ParseIntrospection(data []byte, opts *ParseOptions) (*model.Registration, error) {
	opts = opts.withDefaults()
	schema, err := decodeIntrospection(data, false)
	if err != nil {
		return nil, err
	}
	return buildIntrospection(schema, "", opts)
}

func decodeIntrospection(data []byte, requireData bool) (*introspectionSchema, error) {
	var resp introspectionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, parseErr(model.FormatGraphQL, err, "undecodable introspection response")
	}
	if len(resp.Errors) > 0 {
		messages := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			messages = append(messages, e.Message)
		}
		return nil, parseErr(model.FormatGraphQL, nil, "introspection returned errors: %s", strings.Join(messages, "; "))
	}
	if resp.Data != nil && resp.Data.Schema != nil {
		return resp.Data.Schema, nil
	}
	if !requireData && resp.Schema != nil {
		return resp.Schema, nil
	}
	return nil, parseErr(model.FormatGraphQL, nil, "response has no data.__schema")
}

func buildIntrospection(schema *introspectionSchema, endpointURL string, opts *ParseOptions) (*model.Registration, error) {
	types := make(gqlTypes, len(schema.Types))
	for _, t := range schema.Types {
		types[t.Name] = gqlType{Kind: t.Kind, Fields: t.Fields}
	}

	base, path, err := graphqlEndpoint(endpointURL, opts)
	if err != nil {
		return nil, parseErr(model.FormatGraphQL, err, "missing base URL")
	}

	reg := newRegistration(hostName(base)+" GraphQL", base, model.FormatGraphQL, opts)
	for _, root := range []struct {
		opType string
		ref    *struct{ Name string }
	}{
		{"query", schema.QueryType},
		{"mutation", schema.MutationType},
	} {
		if root.ref == nil || root.ref.Name == "" {
			continue
		}
		rootType, ok := types[root.ref.Name]
		if !ok || rootType.Kind != kindObject {
			return nil, parseErr(model.FormatGraphQL, nil, "root type %q not found in schema", root.ref.Name)
		}
		reg.Endpoints = append(reg.Endpoints, types.endpoints(root.opType, path, rootType.Fields)...)
	}
	if len(reg.Endpoints) == 0 {
		return nil, parseErr(model.FormatGraphQL, nil, "schema has no query or mutation fields")
	}
	return finalize(reg), nil
}
