package models

import "github.com/gofiber/fiber/v2"

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
)

type AuditAction string

const (
	AuditActionSubmit    AuditAction = "SUBMIT"
	AuditActionApprove   AuditAction = "APPROVE"
	AuditActionReject    AuditAction = "REJECT"
	AuditActionDelegate  AuditAction = "DELEGATE"
	AuditActionReconcile AuditAction = "RECONCILE"
)

// Envelope is the response body shared by every API route.
type Envelope struct {
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// OK writes a success envelope with the given status code.
func OK(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(Envelope{OK: true, Data: data})
}

// Fail writes an error envelope.
func Fail(c *fiber.Ctx, status int, kind, message string, details interface{}) error {
	return c.Status(status).JSON(Envelope{OK: false, Error: kind, Message: message, Details: details})
}
