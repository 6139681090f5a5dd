package server

import (
	"net/http"

	"Anicut/core/fal"
	"Anicut/logger"
)

// FalWebhookHandler fal.ai 回调，无需登录
func (h *APIHandler) FalWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.webhooks == nil {
		http.Error(w, "Webhooks not available", http.StatusServiceUnavailable)
		return
	}

	var payload fal.WebhookPayload
	if err := decodeJSON(r, &payload); err != nil {
		logger.Warn("[Webhook] 解析回调失败", logger.ErrorField(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	logger.Info("[Webhook] 收到 fal 回调",
		logger.String("requestId", payload.RequestID),
		logger.String("status", payload.Status),
		logger.String("model", payload.Model))

	res, err := h.webhooks.Handle(r.Context(), payload)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			logger.Error("[Webhook] 处理失败", logger.String("requestId", payload.RequestID), logger.ErrorField(err))
		}
		writeError(w, err, "Failed to process webhook")
		return
	}

	if res.MediaID != "" && !res.Duplicate {
		if item, err := h.media.Find(r.Context(), res.MediaID); err == nil && item != nil {
			h.engine.InvalidatePreview(r.Context(), item.ProjectID)
		}
	}
	writeJSON(w, http.StatusOK, res)
}
