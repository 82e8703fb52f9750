package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "openapi": "3.0.3",
  "info": {"title": "Apps API", "version": "1.0.0"},
  "servers": [{"url": "https://api.example.com"}],
  "paths": {
    "/apps": {
      "get": {
        "operationId": "apps.list",
        "summary": "List apps",
        "responses": {
          "200": {
            "description": "ok",
            "content": {
              "application/json": {
                "schema": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "properties": {
                      "id": {"type": "string"},
                      "name": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      },
      "post": {
        "operationId": "apps.create",
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "required": ["name"],
                "properties": {
                  "name": {"type": "string"},
                  "replicas": {"type": "integer"}
                }
              }
            }
          }
        },
        "responses": {"201": {"description": "created"}}
      }
    },
    "/apps/{id}": {
      "get": {
        "operationId": "apps.get",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

func TestImportGeneratesCommandsAndContract(t *testing.T) {
	result, err := Import([]byte(sampleDoc), "apps-api", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://api.example.com"}, result.Catalog.BaseURLs)
	require.Len(t, result.Commands, 3)

	var foundList, foundCreate, foundGet bool
	for _, cmd := range result.Commands {
		switch cmd.ID() {
		case "apps apps.list":
			foundList = true
			assert.Equal(t, "GET", cmd.Execution.Method)
		case "apps apps.create":
			foundCreate = true
			require.Len(t, cmd.Flags, 2)
		case "apps apps.get":
			foundGet = true
			require.Len(t, cmd.Positional, 1)
			assert.Equal(t, "id", cmd.Positional[0].Name)
		}
	}
	assert.True(t, foundList)
	assert.True(t, foundCreate)
	assert.True(t, foundGet)

	contract, ok := result.ProviderContracts["apps apps.list"]
	require.True(t, ok)
	require.Len(t, contract.Fields, 2)
}

func TestImportRejectsSwagger2(t *testing.T) {
	_, err := Import([]byte(`{"swagger": "2.0", "paths": {"/x": {}}}`), "t", "")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestImportRejectsMissingPaths(t *testing.T) {
	_, err := Import([]byte(`{"openapi": "3.0.3"}`), "t", "")
	assert.ErrorIs(t, err, ErrMissingPaths)
}

func TestImportRejectsEmptyPaths(t *testing.T) {
	_, err := Import([]byte(`{"openapi": "3.0.3", "paths": {}}`), "t", "")
	assert.ErrorIs(t, err, ErrMissingPaths)
}

func TestImportAcceptsYAML(t *testing.T) {
	yamlDoc := `
openapi: "3.0.3"
info:
  title: T
  version: "1.0"
paths:
  /ping:
    get:
      operationId: ping.check
      responses:
        "200":
          description: ok
`
	result, err := Import([]byte(yamlDoc), "ping", "http://localhost")
	require.NoError(t, err)
	require.Len(t, result.Commands, 1)
	assert.Equal(t, "ping ping.check", result.Commands[0].ID())
}
