// Package docs registers the sessiond OpenAPI document with swag. Regenerate
// with `swag init -g cmd/sessiond/docs.go -o internal/httpapi/docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/backends": {"get": {"tags": ["capabilities"], "summary": "Acceleration backends", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.BackendsResponse"}}}}},
        "/score": {"post": {"tags": ["capabilities"], "summary": "Rate how well a model fits this machine", "consumes": ["application/json"], "produces": ["application/json"], "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ScoreResponse"}}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/prompt": {"post": {"tags": ["inference"], "summary": "Raw completion", "description": "Streams NDJSON events: loading, chunk, then done.", "consumes": ["application/json"], "produces": ["application/x-ndjson"], "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Event"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}, "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/chat": {"post": {"tags": ["inference"], "summary": "Chat turn", "description": "Streams NDJSON events: loading, chunk, toolCall, then done.", "consumes": ["application/json"], "produces": ["application/x-ndjson"], "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Event"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}, "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/embeddings": {"post": {"tags": ["inference"], "summary": "Embedding vectors", "consumes": ["application/json"], "produces": ["application/x-ndjson"], "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Event"}}}}},
        "/tokens": {"post": {"tags": ["inference"], "summary": "Count tokens", "consumes": ["application/json"], "produces": ["application/json"], "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TokensResponse"}}}}},
        "/sessions/{id}/dispose": {"post": {"tags": ["sessions"], "summary": "Dispose a session", "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}], "responses": {"204": {"description": "No Content"}}}},
        "/tools/{callID}/result": {"post": {"tags": ["sessions"], "summary": "Deliver a tool call result", "consumes": ["application/json"], "produces": ["application/json"], "parameters": [{"in": "path", "name": "callID", "type": "string", "required": true}, {"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ToolResultResponse"}}}}},
        "/models": {"get": {"tags": ["models"], "summary": "List models", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}}},
        "/status": {"get": {"tags": ["status"], "summary": "Session manager status", "produces": ["application/json"], "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}}}
    },
    "definitions": {
        "types.BackendsResponse": {"type": "object", "properties": {"backends": {"type": "array", "items": {"type": "object", "properties": {"kind": {"type": "string", "example": "cuda"}, "available": {"type": "boolean"}, "device": {"type": "string"}, "reason": {"type": "string"}}}}}},
        "types.ScoreResponse": {"type": "object", "properties": {"score": {"type": "number", "example": 0.82}}},
        "types.TokensResponse": {"type": "object", "properties": {"count": {"type": "integer", "example": 12}}},
        "types.ToolResultResponse": {"type": "object", "properties": {"accepted": {"type": "boolean"}}},
        "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string", "example": "invalid JSON body"}, "code": {"type": "integer", "example": 400}}},
        "types.Event": {"type": "object", "properties": {"type": {"type": "string", "example": "chunk"}, "chunk": {"type": "string"}, "call_id": {"type": "string"}, "name": {"type": "string"}, "arguments": {"type": "object"}, "index": {"type": "integer"}, "vector": {"type": "array", "items": {"type": "number"}}, "model": {"type": "string"}, "result": {"type": "object"}, "error": {"type": "string"}, "code": {"type": "integer"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "sessiond API",
	Description:      "HTTP API for local LLM inference sessions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
