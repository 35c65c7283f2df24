// Package notify announces run status changes on the desktop and in Slack.
package notify

import (
	"fmt"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	Fields  []Field
}

// Field is a labelled value shown alongside the message where the
// channel supports it
type Field struct {
	Name  string
	Value string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// New builds the notifier for the configured channels
func New(desktop bool, slackWebhook string) Notifier {
	var notifiers []Notifier
	if desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if slackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(slackWebhook))
	}
	if len(notifiers) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(notifiers...)
}

// ForRun describes a run that changed status
func ForRun(run *domain.Run) Notification {
	n := Notification{
		Title: fmt.Sprintf("repo-rlm run %s", run.Status),
		RunID: run.ID,
		Fields: []Field{
			{Name: "Status", Value: string(run.Status)},
			{Name: "Mode", Value: string(run.Mode)},
			{Name: "LLM calls", Value: fmt.Sprintf("%d / %d", run.Counters.LLMCallsUsed, run.Config.MaxLLMCalls)},
			{Name: "Tokens", Value: fmt.Sprintf("%d / %d", run.Counters.TokensUsed, run.Config.MaxTokens)},
			{Name: "Elapsed", Value: (time.Duration(run.Counters.ElapsedMs) * time.Millisecond).String()},
		},
	}
	if run.FailureReason != "" {
		n.Fields = append(n.Fields, Field{Name: "Failure", Value: run.FailureReason})
	}
	counters := fmt.Sprintf("%d LLM calls, %d tokens", run.Counters.LLMCallsUsed, run.Counters.TokensUsed)
	switch run.Status {
	case domain.RunCompleted:
		n.Type = NotifySuccess
		n.Message = fmt.Sprintf("%s completed (%s)", run.Objective, counters)
	case domain.RunFailed:
		n.Type = NotifyError
		n.Message = fmt.Sprintf("%s failed: %s (%s)", run.Objective, run.FailureReason, counters)
	case domain.RunCancelled:
		n.Type = NotifyWarning
		n.Message = fmt.Sprintf("%s cancelled (%s)", run.Objective, counters)
	default:
		n.Type = NotifyInfo
		n.Message = fmt.Sprintf("%s is %s", run.Objective, run.Status)
	}
	return n
}
