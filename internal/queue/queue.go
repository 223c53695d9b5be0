// Package queue hands notification jobs to an out-of-process worker.
// The engine only enqueues; rendering and delivery happen elsewhere, so
// a slow mail provider can never stall an auth request.
package queue

import "context"

// Job kinds understood by the notification worker.
const (
	KindEmail = "email"
)

// Email templates referenced by enqueued jobs.
const (
	TemplateVerifyEmail     = "verify_email"
	TemplateLoginOtp        = "login_otp"
	TemplateResetOtp        = "reset_otp"
	TemplateDuplicateSignup = "duplicate_signup_notice"
	TemplatePasswordChanged = "password_changed_notice"
)

// Job is one queued notification. Data carries template variables; put
// short-lived secrets (OTPs) here and nowhere else.
type Job struct {
	Kind      string            `json:"kind"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data,omitempty"`
}

// Queue enqueues jobs for asynchronous delivery. Enqueue returns the
// assigned job id.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (string, error)
}
