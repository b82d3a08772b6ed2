// Package docs registers the OpenAPI description of the shortlink API with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/shorten": {
            "post": {
                "description": "Supports idempotency via the Idempotency-Key header (same key, same result).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Links"],
                "summary": "Create a short link",
                "parameters": [
                    {"type": "string", "description": "Idempotency key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Create link payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateLinkRequest"}}
                ],
                "responses": {
                    "200": {"description": "Id already existed (or idempotent replay)", "schema": {"$ref": "#/definitions/handlers.LinkResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.LinkResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Id allocation exhausted", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/links/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Links"],
                "summary": "Look up a short link",
                "parameters": [
                    {"type": "string", "description": "Short id (confusables are folded)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.LinkResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/links": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List links newest first",
                "parameters": [
                    {"type": "integer", "description": "Page size (1..100)", "name": "limit", "in": "query"},
                    {"type": "string", "description": "Opaque cursor from a previous page", "name": "cursor", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListLinksResponse"}},
                    "400": {"description": "Bad cursor", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/links/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Link detail with audit trail",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "Number of entries per log", "name": "logs", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.LinkDetailResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/links/{id}/disable": {
            "post": {
                "tags": ["Admin"],
                "summary": "Disable a link",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/links/{id}/restore": {
            "post": {
                "tags": ["Admin"],
                "summary": "Re-enable a link",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CreateLinkRequest": {
            "type": "object",
            "required": ["url"],
            "properties": {
                "url": {"type": "string", "example": "https://example.com/landing"},
                "custom_id": {"type": "string", "example": "promo"},
                "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.LinkResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "short_url": {"type": "string"},
                "target_url": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.AdminLinkItem": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "original_url": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "expires_at": {"type": "string", "format": "date-time"},
                "enabled": {"type": "boolean"},
                "disabled_at": {"type": "string", "format": "date-time"},
                "last_access_at": {"type": "string", "format": "date-time"},
                "last_status_code": {"type": "integer"}
            }
        },
        "handlers.ListLinksResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/handlers.AdminLinkItem"}},
                "next_cursor": {"type": "string"}
            }
        },
        "handlers.LinkDetailResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "original_url": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "expires_at": {"type": "string", "format": "date-time"},
                "enabled": {"type": "boolean"},
                "disabled_at": {"type": "string", "format": "date-time"},
                "last_access_at": {"type": "string", "format": "date-time"},
                "last_status_code": {"type": "integer"},
                "create_meta": {"$ref": "#/definitions/handlers.CreateMetaResponse"},
                "create_logs": {"type": "array", "items": {"$ref": "#/definitions/handlers.CreateLogItem"}},
                "access_logs": {"type": "array", "items": {"$ref": "#/definitions/handlers.AccessLogItem"}}
            }
        },
        "handlers.CreateMetaResponse": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string", "format": "date-time"},
                "ip": {"type": "string"},
                "user_agent": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.CreateLogItem": {
            "type": "object",
            "properties": {
                "ts": {"type": "string", "format": "date-time"},
                "ip": {"type": "string"},
                "user_agent": {"type": "string"},
                "request_id": {"type": "string"},
                "target_url": {"type": "string"}
            }
        },
        "handlers.AccessLogItem": {
            "type": "object",
            "properties": {
                "ts": {"type": "string", "format": "date-time"},
                "ip": {"type": "string"},
                "user_agent": {"type": "string"},
                "request_id": {"type": "string"},
                "status_code": {"type": "integer"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Shortlink API",
	Description:      "URL shortener on a leaderless store with single-row compare-and-swap.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
