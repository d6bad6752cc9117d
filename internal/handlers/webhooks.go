package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/internal/middleware"
	"github.com/charlesng35/meetrec/internal/services"
	appErrors "github.com/charlesng35/meetrec/pkg/errors"
	"github.com/charlesng35/meetrec/pkg/logger"
	"github.com/charlesng35/meetrec/pkg/response"
)

// SummaryDeliverer pushes summaries to the participants of a meeting.
type SummaryDeliverer interface {
	DeliverFinalSummary(ctx context.Context, meetingID string) (int, error)
	DeliverIntermediateSummary(ctx context.Context, meetingID string) (int, error)
}

// WebhookHandler receives completion callbacks from the summary service.
type WebhookHandler struct {
	deliverer SummaryDeliverer
	log       *zap.Logger
}

func NewWebhookHandler(deliverer SummaryDeliverer) (*WebhookHandler, error) {
	if deliverer == nil {
		return nil, errors.New("webhook handler: deliverer is required")
	}
	return &WebhookHandler{deliverer: deliverer, log: logger.WithModule("webhook")}, nil
}

type webhookQuery struct {
	MeetingID string `form:"meetingId" validate:"required,identifier"`
}

type webhookResult struct {
	MeetingID string `json:"meetingId"`
	Stage     string `json:"stage"`
	Delivered int    `json:"delivered"`
}

// GET|POST /webhook/complete
func (h *WebhookHandler) Complete(c *gin.Context) {
	h.deliver(c, "final", h.deliverer.DeliverFinalSummary)
}

// GET|POST /webhook/complete2
func (h *WebhookHandler) Intermediate(c *gin.Context) {
	h.deliver(c, "intermediate", h.deliverer.DeliverIntermediateSummary)
}

func (h *WebhookHandler) deliver(c *gin.Context, stage string, fn func(context.Context, string) (int, error)) {
	var query webhookQuery
	if !bindQuery(c, &query) {
		return
	}
	if claims, ok := middleware.WebhookClaims(c); ok && !claims.Allows(query.MeetingID) {
		response.Error(c, appErrors.ErrForbidden.WithMessage("token is not valid for this meeting"))
		return
	}

	h.log.Info("summary webhook received",
		zap.String("meeting_id", query.MeetingID),
		zap.String("stage", stage),
	)

	delivered, err := fn(requestContext(c), query.MeetingID)
	switch {
	case errors.Is(err, services.ErrSummaryDisabled):
		response.Error(c, appErrors.ErrServiceUnavailable.WithMessage("summary service is not configured"))
		return
	case err != nil:
		response.Error(c, appErrors.ErrSummaryUnavailable.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, webhookResult{
		MeetingID: query.MeetingID,
		Stage:     stage,
		Delivered: delivered,
	})
}
