// Package docs holds the OpenAPI document served by /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Operations Platform Team"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Check if the server is up",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health Check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        },
        "/debug/me": {
            "get": {
                "description": "Resolve the caller identity into the actor the approval engine sees",
                "produces": ["application/json"],
                "tags": ["debug"],
                "summary": "Get current caller",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "403": {"description": "Forbidden", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/api/approvals": {
            "get": {
                "description": "Pending approval records assigned to the caller across every entity type, with an entity summary",
                "produces": ["application/json"],
                "tags": ["approvals"],
                "summary": "List the caller's pending approvals",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.Envelope"}}
                }
            }
        },
        "/api/policies": {
            "get": {
                "produces": ["application/json"],
                "tags": ["approvals"],
                "summary": "List approval level policies",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Envelope"}}
                }
            }
        },
        "/api/{entityType}": {
            "post": {
                "description": "Create a Request, Payment, Payroll run or Project and seed its approval records",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["approvals"],
                "summary": "Submit an entity for approval",
                "parameters": [
                    {"type": "string", "description": "Entity type slug or name (requests, payments, payroll, projects)", "name": "entityType", "in": "path", "required": true},
                    {"description": "Entity and approvers per level", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/approval.SubmitRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.Envelope"}}
                }
            }
        },
        "/api/{entityType}/{entityId}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["approvals"],
                "summary": "Get an entity with its approval trail",
                "parameters": [
                    {"type": "string", "description": "Entity type slug or name", "name": "entityType", "in": "path", "required": true},
                    {"type": "string", "description": "Entity ID", "name": "entityId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.Envelope"}}
                }
            }
        },
        "/api/{entityType}/{entityId}/approve": {
            "post": {
                "description": "Decide one pending approval record assigned to the caller and return the updated entity",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["approvals"],
                "summary": "Approve or reject an approval record",
                "parameters": [
                    {"type": "string", "description": "Entity type slug or name", "name": "entityType", "in": "path", "required": true},
                    {"type": "string", "description": "Entity ID", "name": "entityId", "in": "path", "required": true},
                    {"description": "Decision", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/approval.ApproveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.Envelope"}}
                }
            }
        },
        "/api/{entityType}/{entityId}/add-approver": {
            "post": {
                "description": "Add a pending approver at a level of an in-flight workflow. The caller must already be part of the workflow and hold a delegation permission.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["approvals"],
                "summary": "Delegate to an additional approver",
                "parameters": [
                    {"type": "string", "description": "Entity type slug or name", "name": "entityType", "in": "path", "required": true},
                    {"type": "string", "description": "Entity ID", "name": "entityId", "in": "path", "required": true},
                    {"description": "New approver", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/approval.AddApproverRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.Envelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.Envelope"}}
                }
            }
        }
    },
    "definitions": {
        "approval.AddApproverRequest": {
            "type": "object",
            "properties": {
                "actorId": {"type": "string"},
                "level": {"type": "string"},
                "newApproverId": {"type": "string"},
                "requiredPermission": {"type": "string"}
            }
        },
        "approval.ApproveRequest": {
            "type": "object",
            "properties": {
                "action": {"type": "string"},
                "approvalId": {"type": "string"},
                "comments": {"type": "string"},
                "level": {"type": "string"},
                "userId": {"type": "string"}
            }
        },
        "approval.SubmitRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "number"},
                "approvers": {
                    "type": "object",
                    "additionalProperties": {"type": "array", "items": {"type": "string"}}
                },
                "description": {"type": "string"},
                "title": {"type": "string"}
            }
        },
        "models.Envelope": {
            "type": "object",
            "properties": {
                "data": {},
                "details": {},
                "error": {"type": "string"},
                "message": {"type": "string"},
                "ok": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Opsdesk Approval API",
	Description:      "Multi-level approval workflows for requests, payments, payroll runs and projects.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
