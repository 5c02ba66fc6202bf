package generator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mdwit/spec2call/internal/config"
	"github.com/mdwit/spec2call/internal/model"
)

func testRegistration() *model.Registration {
	return &model.Registration{
		ID:          "test-api-1a2b3c4d",
		Name:        "Test API",
		Description: "Test API description",
		Version:     "1.0.0",
		BaseURL:     "https://api.test.com",
		Format:      model.FormatOpenAPI3,
		Enabled:     true,
		Auth:        model.NewAuthConfig(model.APIKeyAuth{In: model.LocationHeader, Name: "X-API-Key"}),
		Endpoints: []model.Endpoint{
			{
				OperationID: "listUsers",
				Method:      "GET",
				Path:        "/users",
				Summary:     "List users",
				Description: "Get list of all users",
				Tags:        []string{"users"},
				Enabled:     true,
				Parameters: []model.Parameter{
					{Name: "limit", In: model.LocationQuery, Description: "Max results", Schema: &model.Schema{Type: "integer"}},
				},
				Responses: map[string]model.Response{
					"200": {Description: "Success"},
				},
			},
			{
				OperationID: "createUser",
				Method:      "POST",
				Path:        "/users",
				Summary:     "Create user",
				Tags:        []string{"users"},
				Enabled:     true,
				RequestBody: &model.RequestBody{
					Description: "User data",
					Required:    true,
					Content: map[string]model.MediaType{
						"application/json": {
							Schema: &model.Schema{
								Type:     "object",
								Required: []string{"name"},
								Properties: map[string]*model.Schema{
									"name":  {Type: "string"},
									"email": {Type: "string", Format: "email"},
								},
							},
						},
					},
				},
				Responses: map[string]model.Response{
					"201": {Description: "Created"},
				},
			},
			{
				OperationID: "purgeUsers",
				Method:      "DELETE",
				Path:        "/users",
				Tags:        []string{"users"},
				Enabled:     false,
			},
		},
	}
}

func TestGenerate(t *testing.T) {
	tmpDir := t.TempDir()
	gen := New(config.CatalogConfig{Output: tmpDir, GroupBy: "tag"}, testRegistration())
	if err := gen.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	llmsPath := filepath.Join(tmpDir, "llms.txt")
	usersFile := filepath.Join(tmpDir, "endpoints", "users.txt")
	if _, err := os.Stat(usersFile); os.IsNotExist(err) {
		t.Fatal("users.txt not created")
	}

	llmsContent, err := os.ReadFile(llmsPath)
	if err != nil {
		t.Fatalf("Failed to read llms.txt: %v", err)
	}
	content := string(llmsContent)

	for _, want := range []string{
		"# Test API",
		"Test API description",
		"https://api.test.com",
		"Registration: `test-api-1a2b3c4d`",
		"## Authentication",
		"X-API-Key",
		"not configured",
		"### [users](./endpoints/users.txt)",
		"- `listUsers` GET /users: List users",
		"- `createUser` POST /users: Create user",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("llms.txt missing %q", want)
		}
	}
	if strings.Contains(content, "purgeUsers") {
		t.Error("disabled operation listed in llms.txt")
	}

	endpointContent, err := os.ReadFile(usersFile)
	if err != nil {
		t.Fatalf("Failed to read users.txt: %v", err)
	}
	if !strings.Contains(string(endpointContent), "## POST /users - Create user") {
		t.Error("users.txt missing POST /users section")
	}
	if !strings.Contains(string(endpointContent), "spec2call call test-api-1a2b3c4d createUser") {
		t.Error("users.txt missing call example")
	}
}

func TestGenerateGroupByPath(t *testing.T) {
	reg := testRegistration()
	reg.Endpoints = append(reg.Endpoints, model.Endpoint{
		OperationID: "getOrder", Method: "GET", Path: "/v1/orders/{id}", Enabled: true,
	})

	tmpDir := t.TempDir()
	gen := New(config.CatalogConfig{Output: tmpDir, GroupBy: "path", DocsBaseURL: "https://docs.test.com/"}, reg)
	if err := gen.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, name := range []string{"users.txt", "v1-orders.txt"} {
		if _, err := os.Stat(filepath.Join(tmpDir, "endpoints", name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, "llms.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "(https://docs.test.com/endpoints/v1-orders.txt)") {
		t.Error("llms.txt missing absolute docs link")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "users"},
		{"User Operations", "user-operations"},
		{"api/v1", "api-v1"},
		{"UPPERCASE", "uppercase"},
		{"..", "other"},
	}

	for _, tt := range tests {
		result := sanitizeFilename(tt.input)
		if result != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestGenerateCurlExample(t *testing.T) {
	reg := &model.Registration{
		BaseURL: "https://api.example.com",
		Auth:    model.NewAuthConfig(model.BearerAuth{}),
	}
	gen := New(config.CatalogConfig{}, reg)

	ep := model.Endpoint{
		Method:  "GET",
		Path:    "/users/{id}",
		Summary: "Get user",
		Parameters: []model.Parameter{
			{Name: "id", In: model.LocationPath, Required: true, Schema: &model.Schema{Type: "integer"}},
			{Name: "expand", In: model.LocationQuery, Schema: &model.Schema{Type: "boolean"}},
			{Name: "X-Trace", In: model.LocationHeader, Example: "abc"},
		},
	}

	result := gen.generateCurlExample(ep)

	if !strings.Contains(result, "curl -X GET") {
		t.Error("Missing curl command")
	}
	if !strings.Contains(result, "https://api.example.com/users/1") {
		t.Error("Missing URL with path parameter")
	}
	if !strings.Contains(result, "expand=true") {
		t.Error("Missing query parameter")
	}
	if !strings.Contains(result, "X-Trace: abc") {
		t.Error("Missing header parameter")
	}
	if !strings.Contains(result, "Authorization: Bearer YOUR_TOKEN") {
		t.Error("Missing auth header")
	}
	if strings.Contains(result, "Content-Type") {
		t.Error("Content-Type set for a request without body")
	}
}

func TestCurlAuthLocations(t *testing.T) {
	ep := model.Endpoint{Method: "GET", Path: "/ping"}

	query := New(config.CatalogConfig{}, &model.Registration{
		BaseURL: "https://api.example.com",
		Auth:    model.NewAuthConfig(model.APIKeyAuth{In: model.LocationQuery, Name: "api_key"}),
	}).generateCurlExample(ep)
	if !strings.Contains(query, "/ping?api_key=YOUR_API_KEY") {
		t.Errorf("query api key not rendered: %s", query)
	}

	basic := New(config.CatalogConfig{}, &model.Registration{
		BaseURL: "https://api.example.com",
		Auth:    model.NewAuthConfig(model.BasicAuth{}),
	}).generateCurlExample(ep)
	if !strings.Contains(basic, "-u \"USERNAME:PASSWORD\"") {
		t.Errorf("basic auth not rendered: %s", basic)
	}
}

func TestFormatAuthHidesSecrets(t *testing.T) {
	cfg := model.NewAuthConfig(model.OAuth2Auth{
		Flow:         model.FlowClientCredentials,
		TokenURL:     "https://auth.example.com/token",
		ClientID:     model.SecretRef{VaultName: "client-id-entry"},
		ClientSecret: model.SecretRef{VaultName: "client-secret-entry"},
		Scopes:       []string{"read", "write"},
	})

	result := formatAuth(cfg)

	if !strings.Contains(result, "https://auth.example.com/token") {
		t.Error("Missing token URL")
	}
	if !strings.Contains(result, "`read`, `write`") {
		t.Error("Missing scopes")
	}
	if !strings.Contains(result, "**Credentials**: configured") {
		t.Error("Missing credentials status")
	}
	if strings.Contains(result, "client-secret-entry") {
		t.Error("secret reference leaked into catalog")
	}
}

func TestGenerateSchemaDoc(t *testing.T) {
	gen := New(config.CatalogConfig{}, &model.Registration{})

	schema := &model.Schema{
		Type:     "object",
		Required: []string{"name"},
		Properties: map[string]*model.Schema{
			"name":   {Type: "string", Description: "User name"},
			"age":    {Type: "integer"},
			"email":  {Type: "string", Format: "email"},
			"status": {Type: "string", Enum: []any{"active", "banned"}},
		},
	}

	result := gen.generateSchemaDoc(schema, 0)

	if !strings.Contains(result, "```json") {
		t.Error("Missing JSON code block")
	}
	if !strings.Contains(result, "\"name\"") {
		t.Error("Missing name field")
	}
	if !strings.Contains(result, "\"status\": \"active\"") {
		t.Error("Missing enum example")
	}
	if !strings.Contains(result, "| Field | Type | Required | Description |") {
		t.Error("Missing fields table")
	}
	if !strings.Contains(result, "| name | string | ✓ | User name |") {
		t.Error("Missing required marker")
	}
}

func TestGenerateCurlExampleGraphQL(t *testing.T) {
	gen := New(config.CatalogConfig{}, &model.Registration{BaseURL: "https://gql.example.com"})
	ep := model.Endpoint{
		Method: "POST",
		Path:   "/graphql#query.user",
		Parameters: []model.Parameter{
			{Name: "id", In: model.LocationBody, Required: true, Schema: &model.Schema{Type: "string"}},
			{Name: "first", In: model.LocationBody, Schema: &model.Schema{Type: "integer"}},
		},
		GraphQL: &model.GraphQLOperation{
			Operation: "query",
			Field:     "user",
			Arguments: []model.GraphQLArgument{{Name: "id", Type: "ID!"}, {Name: "first", Type: "Int"}},
			Selection: "{ id }",
		},
	}

	result := gen.generateCurlExample(ep)

	if !strings.Contains(result, `"https://gql.example.com/graphql"`) {
		t.Errorf("operation marker leaked into URL: %s", result)
	}
	if !strings.Contains(result, "Content-Type: application/json") {
		t.Error("Missing Content-Type")
	}
	if !strings.Contains(result, `"query":"query($id: ID!) { user(id: $id) { id } }"`) {
		t.Errorf("Missing query document: %s", result)
	}
	if !strings.Contains(result, `"variables":{"id":"value"}`) {
		t.Errorf("Missing variables: %s", result)
	}
}
