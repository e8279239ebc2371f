// Package docs holds the OpenAPI document served at /swagger when enabled.
// Regenerate with: swag init -g cmd/autoreplyd/main.go -o docs
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
        "/webhooks/gmail": {
            "post": {
                "description": "Validates the Pub/Sub envelope, resolves the tenant, lists new history and enqueues reply jobs. Responds only after the chain completed.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Receive a mailbox push notification",
                "operationId": "gmailWebhook",
                "parameters": [
                    {"description": "Pub/Sub push envelope", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PushEnvelope"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.IngestResult"}},
                    "400": {"description": "Malformed payload or inactive subscription", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown mailbox", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Tenant notification rate exceeded", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Register a tenant mailbox",
                "operationId": "registerTenant",
                "parameters": [
                    {"description": "Tenant", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterTenantRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Tenant"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Mailbox already registered", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Fetch a tenant",
                "operationId": "getTenant",
                "parameters": [{"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Tenant"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}/settings": {
            "get": {
                "description": "Returns stored settings, or disabled defaults when none were saved.",
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Read reply settings",
                "operationId": "getSettings",
                "parameters": [{"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SettingsRequest"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Replace reply settings",
                "operationId": "putSettings",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true},
                    {"description": "Settings", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SettingsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SettingsRequest"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}/watch": {
            "post": {
                "description": "Registers the provider watch, stores the returned cursor as baseline and schedules renewal.",
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Start mailbox push notifications",
                "operationId": "startWatch",
                "parameters": [{"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.WatchSubscription"}},
                    "502": {"description": "Mailbox credentials rejected", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Push topic not configured", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["Tenants"],
                "summary": "Stop mailbox push notifications",
                "operationId": "stopWatch",
                "parameters": [{"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "No subscription", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}/outbound": {
            "post": {
                "description": "Stores recipients so replies from them are correlated and answered when auto_reply_enabled is set.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Tenants"],
                "summary": "Record an email the tenant sent",
                "operationId": "recordOutbound",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true},
                    {"description": "Outbound email", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.OutboundRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}/jobs": {
            "get": {
                "description": "Returns the tenant's jobs, newest first. Supports a weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "List reply jobs (paginated)",
                "operationId": "listJobs",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true},
                    {"enum": ["pending", "processing", "retry", "sent", "failed", "cancelled"], "type": "string", "description": "Status filter", "name": "status", "in": "query"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}/jobs/{jobID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Fetch one reply job",
                "operationId": "getJob",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "format": "uuid", "description": "Job ID", "name": "jobID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/tenants/{id}/events": {
            "get": {
                "description": "Upgrades to a websocket and pushes job lifecycle events for the tenant until the client disconnects.",
                "tags": ["Jobs"],
                "summary": "Stream job events over a websocket",
                "operationId": "jobEvents",
                "parameters": [{"type": "string", "format": "uuid", "description": "Tenant ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Tenant": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"},
                "display_name": {"type": "string"},
                "first_name": {"type": "string"},
                "company": {"type": "string"},
                "signature": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.WatchSubscription": {
            "type": "object",
            "properties": {
                "tenant_id": {"type": "string"},
                "history_cursor": {"type": "integer"},
                "expiration": {"type": "string"},
                "active": {"type": "boolean"},
                "error_count": {"type": "integer"},
                "last_error": {"type": "string"},
                "topic_name": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "tenant not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.PushEnvelope": {
            "type": "object",
            "properties": {
                "message": {
                    "type": "object",
                    "properties": {
                        "data": {"type": "string"},
                        "messageId": {"type": "string"},
                        "publishTime": {"type": "string"}
                    }
                },
                "subscription": {"type": "string"}
            }
        },
        "handlers.RegisterTenantRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "example": "owner@acme.io"},
                "display_name": {"type": "string"},
                "first_name": {"type": "string"},
                "company": {"type": "string"},
                "signature": {"type": "string"},
                "credentials": {"type": "string"}
            }
        },
        "handlers.SettingsRequest": {
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "mode": {"type": "string", "example": "template"},
                "tone": {"type": "string", "example": "professional"},
                "delay_minutes": {"type": "integer"},
                "skip_keywords": {"type": "array", "items": {"type": "string"}},
                "business_hours_start": {"type": "integer"},
                "business_hours_end": {"type": "integer"},
                "business_days": {"type": "array", "items": {"type": "integer"}},
                "timezone": {"type": "string"},
                "once_per_thread": {"type": "boolean"},
                "business_context": {"type": "string"},
                "max_retries": {"type": "integer"}
            }
        },
        "handlers.OutboundRequest": {
            "type": "object",
            "properties": {
                "subject": {"type": "string"},
                "thread_id": {"type": "string"},
                "auto_reply_enabled": {"type": "boolean"},
                "recipients": {"type": "array", "items": {"type": "string"}},
                "sent_at": {"type": "string"}
            }
        },
        "services.IngestResult": {
            "type": "object",
            "properties": {
                "tenant_id": {"type": "string"},
                "replayed": {"type": "boolean"},
                "listed": {"type": "integer"},
                "enqueued": {"type": "integer"},
                "duplicates": {"type": "integer"},
                "rejected": {"type": "integer"},
                "skipped": {"type": "integer"},
                "rebaselined": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Auto-Reply Backend API",
	Description:      "Mailbox push webhook, tenant management and reply job audit API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
