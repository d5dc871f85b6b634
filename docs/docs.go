// Package docs registers the OpenAPI description served under /docs.
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
        "/auth/register": {"post": {"tags": ["auth"], "summary": "Register a new user", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}},
        "/auth/login": {"post": {"tags": ["auth"], "summary": "Login", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/auth/logout": {"post": {"security": [{"BearerAuth": []}], "tags": ["auth"], "summary": "Logout", "responses": {"204": {"description": "No Content"}}}},
        "/auth/me": {"get": {"security": [{"BearerAuth": []}], "tags": ["auth"], "summary": "Get Current User", "responses": {"200": {"description": "OK"}}}},
        "/users/search": {"get": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Search users", "parameters": [{"type": "string", "name": "q", "in": "query", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/users/online": {"get": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "List online users", "responses": {"200": {"description": "OK"}}}},
        "/users/me": {"patch": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Update profile", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/users/{userID}": {"get": {"security": [{"BearerAuth": []}], "tags": ["users"], "summary": "Get user", "parameters": [{"type": "integer", "name": "userID", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/chats": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "List chats", "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Create chat", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/chats/private": {"post": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Open private chat", "responses": {"200": {"description": "OK"}}}},
        "/chats/{chatID}": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Get chat", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}},
            "patch": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Update group chat", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}
        },
        "/chats/{chatID}/participants": {"post": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Add participant", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}, "409": {"description": "Conflict"}}}},
        "/chats/{chatID}/participants/{userID}": {"delete": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Remove participant", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}, {"type": "integer", "name": "userID", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}},
        "/chats/{chatID}/participants/{userID}/role": {"put": {"security": [{"BearerAuth": []}], "tags": ["chats"], "summary": "Set participant role", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}, {"type": "integer", "name": "userID", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}},
        "/chats/{chatID}/messages": {"get": {"security": [{"BearerAuth": []}], "tags": ["messages"], "summary": "List messages", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}, {"type": "integer", "name": "page", "in": "query"}, {"type": "integer", "name": "page_size", "in": "query"}], "responses": {"200": {"description": "OK"}}}},
        "/chats/{chatID}/read": {"post": {"security": [{"BearerAuth": []}], "tags": ["messages"], "summary": "Mark chat read", "parameters": [{"type": "integer", "name": "chatID", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}}
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
	Host:             "localhost:8000",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Chat API",
	Description:      "Realtime chat backend: chats, messages, presence and typing.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
