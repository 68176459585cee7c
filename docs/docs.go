// Package docs registers the dashboard API description for swaggo.
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        },
        "/auth/sign-up": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Register a dashboard user",
                "parameters": [
                    {
                        "description": "Credentials",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.authCredentials"}
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "object", "additionalProperties": {"type": "integer"}}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        },
        "/auth/sign-in": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Obtain an observer access token",
                "parameters": [
                    {
                        "description": "Credentials",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.authCredentials"}
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        },
        "/api/v1/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Open subscriptions and lifetime published/dropped counters of the log event stream.",
                "produces": ["application/json"],
                "tags": ["events"],
                "summary": "Event stream stats",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/service.BroadcastStats"}
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        },
        "/ws": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Upgrades to a websocket and pushes every log event published after the connection opens, one JSON message per event.",
                "tags": ["events"],
                "summary": "Observe log events",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Access token when the Authorization header cannot be set",
                        "name": "token",
                        "in": "query"
                    }
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {
                        "description": "Unauthorized",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.authCredentials": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {
                "password": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "service.BroadcastStats": {
            "type": "object",
            "properties": {
                "dropped": {"type": "integer"},
                "published": {"type": "integer"},
                "subscribers": {"type": "integer"}
            }
        },
        "models.LogEvent": {
            "type": "object",
            "properties": {
                "body": {},
                "event_id": {"type": "string"},
                "host": {"type": "string"},
                "message": {"type": "string"},
                "method": {"type": "string"},
                "path": {"type": "string"},
                "target": {"type": "string"},
                "timestamp": {"type": "string"},
                "type": {"type": "string", "enum": ["info", "error"]}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Logging Proxy Dashboard API",
	Description:      "Observer API of the logging reverse proxy: live log event stream, stats and dashboard users.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
