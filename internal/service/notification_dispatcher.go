package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/pkg/mailer"
)

// DomainEvent is a state change the file owner may need to hear about.
type DomainEvent interface {
	file() models.FileUpload
	actorID() string
	transitionID() string
}

// StatusChanged is emitted after a review status transition commits.
type StatusChanged struct {
	File         models.FileUpload
	NewStatus    models.FileStatus
	ActorID      string
	TransitionID string
}

// Commented is emitted after a comment is stored.
type Commented struct {
	File         models.FileUpload
	ActorID      string
	TransitionID string
}

// ScoringFinished is emitted by the scoring worker. Its actor is the system.
type ScoringFinished struct {
	File         models.FileUpload
	Succeeded    bool
	Score        float64
	TransitionID string
}

func (e StatusChanged) file() models.FileUpload { return e.File }
func (e StatusChanged) actorID() string         { return e.ActorID }
func (e StatusChanged) transitionID() string    { return e.TransitionID }

func (e Commented) file() models.FileUpload { return e.File }
func (e Commented) actorID() string         { return e.ActorID }
func (e Commented) transitionID() string    { return e.TransitionID }

func (e ScoringFinished) file() models.FileUpload { return e.File }
func (e ScoringFinished) actorID() string         { return "" }
func (e ScoringFinished) transitionID() string    { return e.TransitionID }

type notificationWriter interface {
	Insert(ctx context.Context, n *models.Notification) (bool, error)
}

type recipientFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type notificationMetrics interface {
	ObserveNotification(outcome string)
}

type notificationTemplate struct {
	title   string
	message string
	kind    models.NotificationType
}

// NotificationDispatcher turns domain events into owner notifications. It
// never returns an error: failures are logged and counted.
type NotificationDispatcher struct {
	store   notificationWriter
	users   recipientFinder
	mailer  mailer.Mailer
	metrics notificationMetrics
	logger  *zap.Logger
	baseURL string
}

// NewNotificationDispatcher constructs a dispatcher. users and m may be nil
// to disable the email channel.
func NewNotificationDispatcher(store notificationWriter, users recipientFinder, m mailer.Mailer, metrics notificationMetrics, logger *zap.Logger, frontendBaseURL string) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, noop := m.(mailer.Noop); noop {
		m = nil
	}
	return &NotificationDispatcher{
		store:   store,
		users:   users,
		mailer:  m,
		metrics: metrics,
		logger:  logger,
		baseURL: strings.TrimRight(frontendBaseURL, "/"),
	}
}

// Dispatch stores a notification for the file owner. It returns true only
// when a new notification was written.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, event DomainEvent) bool {
	file := event.file()
	if actor := event.actorID(); actor != "" && actor == file.UserID {
		d.observe(NotificationSuppressed)
		return false
	}

	tmpl, ok := composeNotification(event)
	if !ok {
		d.logger.Warn("no notification template for event", zap.String("file_id", file.ID), zap.String("event", fmt.Sprintf("%T", event)))
		return false
	}

	entityType := models.ResourceFile
	fileID := file.ID
	n := &models.Notification{
		UserID:            file.UserID,
		Title:             tmpl.title,
		Message:           tmpl.message,
		Type:              tmpl.kind,
		RelatedEntityType: &entityType,
		RelatedEntityID:   &fileID,
		DedupeKey:         strPtr(event.transitionID()),
	}
	if d.baseURL != "" {
		link := d.baseURL + "/files/" + file.ID
		n.Link = &link
	}

	inserted, err := d.store.Insert(ctx, n)
	if err != nil {
		d.observe(NotificationFailed)
		d.logger.Error("failed to persist notification",
			zap.String("file_id", file.ID),
			zap.String("user_id", file.UserID),
			zap.Error(err),
		)
		return false
	}
	if !inserted {
		d.observe(NotificationDuplicate)
		d.logger.Debug("duplicate notification skipped", zap.String("dedupe_key", event.transitionID()))
		return false
	}
	d.observe(NotificationCreated)

	d.sendEmail(ctx, n)
	return true
}

func (d *NotificationDispatcher) sendEmail(ctx context.Context, n *models.Notification) {
	if d.mailer == nil || d.users == nil {
		return
	}
	user, err := d.users.FindByID(ctx, n.UserID)
	if err != nil {
		d.logger.Warn("notification recipient lookup failed", zap.String("user_id", n.UserID), zap.Error(err))
		return
	}
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return
	}

	text := n.Message
	body := "<p>" + html.EscapeString(n.Message) + "</p>"
	if n.Link != nil {
		text += "\n\n" + *n.Link
		body += fmt.Sprintf(`<p><a href="%s">View file</a></p>`, html.EscapeString(*n.Link))
	}
	if err := d.mailer.Send(ctx, mailer.Message{To: user.Email, Subject: n.Title, Text: text, HTML: body}); err != nil {
		d.observe(NotificationEmailError)
		d.logger.Warn("notification email failed", zap.String("user_id", n.UserID), zap.Error(err))
		return
	}
	d.observe(NotificationEmailSent)
}

func (d *NotificationDispatcher) observe(outcome string) {
	if d.metrics != nil {
		d.metrics.ObserveNotification(outcome)
	}
}

func composeNotification(event DomainEvent) (notificationTemplate, bool) {
	name := event.file().DisplayName()
	switch e := event.(type) {
	case StatusChanged:
		switch e.NewStatus {
		case models.FileStatusApproved:
			return notificationTemplate{"File Approved", fmt.Sprintf("Your file '%s' has been approved.", name), models.NotificationSuccess}, true
		case models.FileStatusRejected:
			return notificationTemplate{"File Rejected", fmt.Sprintf("Your file '%s' has been rejected.", name), models.NotificationError}, true
		case models.FileStatusPending:
			return notificationTemplate{"File Back In Review", fmt.Sprintf("Your file '%s' is pending review.", name), models.NotificationInfo}, true
		}
	case Commented:
		return notificationTemplate{"New Comment", fmt.Sprintf("A new comment was added to your file '%s'.", name), models.NotificationInfo}, true
	case ScoringFinished:
		if e.Succeeded {
			return notificationTemplate{"Analysis Complete", fmt.Sprintf("AI analysis of your file '%s' finished with a score of %.2f.", name, e.Score), models.NotificationSuccess}, true
		}
		return notificationTemplate{"Analysis Failed", fmt.Sprintf("AI analysis of your file '%s' could not be completed.", name), models.NotificationWarning}, true
	}
	return notificationTemplate{}, false
}
