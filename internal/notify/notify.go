// Package notify delivers benchmark summaries to desktop and Slack.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Field is one labelled value of a batch summary
type Field struct {
	Title string
	Value string
	Short bool
}

// Notification is a finished batch rendered for people
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Ref     string
	Fields  []Field
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

// Send delivers n to every notifier and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		errs = append(errs, notifier.Send(n))
	}
	return errors.Join(errs...)
}

// BatchSummary builds the notification sent when a batch finishes. The
// message is a two-line digest; Fields carry the leaderboard breakdown.
func BatchSummary(res domain.BatchResult) Notification {
	n := Notification{
		Title: fmt.Sprintf("Batch finished: %d models", len(res.Leaderboard)),
		Type:  NotifyInfo,
		Ref:   res.BatchID,
	}

	counts := map[domain.RunStatus]int{}
	for _, e := range res.Leaderboard {
		counts[e.Status]++
	}
	statusLine := fmt.Sprintf("success %d, partial %d, fail %d, error %d",
		counts[domain.RunSuccess], counts[domain.RunPartial], counts[domain.RunFail], counts[domain.RunError])

	winner, ok := res.Winner()
	var b strings.Builder
	if ok {
		fmt.Fprintf(&b, "Winner: %s (%s, %d/%d tests)", winner.Model, winner.Status, winner.TestsPassed, winner.TestsTotal)
		if winner.Status == domain.RunSuccess {
			n.Type = NotifySuccess
		} else {
			n.Type = NotifyWarning
		}
		n.Fields = append(n.Fields,
			Field{Title: "Winner", Value: winner.Model, Short: true},
			Field{Title: "Pass rate", Value: fmt.Sprintf("%.0f%% (%d/%d)", winner.PassRate()*100, winner.TestsPassed, winner.TestsTotal), Short: true},
		)
	} else {
		b.WriteString("No model completed")
		n.Type = NotifyError
	}
	b.WriteString("\n" + statusLine)
	n.Message = b.String()

	n.Fields = append(n.Fields,
		Field{Title: "Results", Value: statusLine},
		Field{Title: "Duration", Value: (time.Duration(res.DurationMS) * time.Millisecond).Round(time.Second).String(), Short: true},
	)
	if res.BatchID != "" {
		n.Fields = append(n.Fields, Field{Title: "Batch", Value: res.BatchID, Short: true})
	}
	return n
}
