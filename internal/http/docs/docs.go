// Package docs holds the OpenAPI document for the gateway-owned endpoints,
// served by gin-swagger at /swagger/index.html.
//
// Regenerate after changing handler annotations:
//
//	swag init -g cmd/gateway/main.go -o internal/http/docs --parseInternal
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
        "/dev/token": {
            "post": {
                "description": "Signs a bearer token for the given identity. Only mounted when NODE_ENV=development.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Development"],
                "summary": "Issue a development token",
                "operationId": "createDevToken",
                "parameters": [
                    {
                        "description": "Identity to sign",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.DevTokenRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.DevTokenResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Pings the rate-limit store. Answers 503 only when the limiter is fail-closed and the store is down.",
                "produces": ["application/json"],
                "tags": ["Gateway"],
                "summary": "Liveness and limiter store state",
                "operationId": "getHealth",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}},
                    "503": {"description": "Store unavailable (fail-closed)", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}
                }
            }
        },
        "/routes": {
            "get": {
                "description": "Returns every route prefix with its service, auth requirement and rate-limit tier. Upstream addresses are never included.",
                "produces": ["application/json"],
                "tags": ["Gateway"],
                "summary": "List the route table",
                "operationId": "listRoutes",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.RoutesResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.DevTokenRequest": {
            "type": "object",
            "required": ["userId"],
            "properties": {
                "email": {"type": "string", "maxLength": 254, "example": "driver@example.com"},
                "role": {"type": "string", "maxLength": 32, "example": "fleet_manager"},
                "userId": {"type": "string", "maxLength": 64, "example": "user-1"}
            }
        },
        "handlers.DevTokenResponse": {
            "type": "object",
            "properties": {
                "expiresIn": {"type": "integer", "example": 604800},
                "token": {"type": "string"},
                "tokenType": {"type": "string", "example": "Bearer"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"description": "Human-readable message, safe to show to users.", "type": "string", "example": "Route not found"},
                "retryAfter": {"description": "Seconds until the rate-limit window resets (429 only).", "type": "string", "example": "850"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "rateLimitStore": {"type": "string", "example": "ok"},
                "status": {"type": "string", "example": "ok"},
                "time": {"type": "string"}
            }
        },
        "handlers.RouteView": {
            "type": "object",
            "properties": {
                "max": {"type": "integer", "example": 30},
                "pathPrefix": {"type": "string", "example": "/api/fleet"},
                "requiresAuth": {"type": "boolean"},
                "service": {"type": "string", "example": "fleet"},
                "tier": {"type": "string", "example": "api"},
                "windowMs": {"type": "integer", "example": 60000}
            }
        },
        "handlers.RoutesResponse": {
            "type": "object",
            "properties": {
                "routes": {"type": "array", "items": {"$ref": "#/definitions/handlers.RouteView"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Fleet Gateway API",
	Description:      "Gateway-owned endpoints. Every other path is proxied to the fleet platform services.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
