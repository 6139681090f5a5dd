package fal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"Anicut/core/media"
	"Anicut/logger"
	"Anicut/model"
	"Anicut/repository"

	"gorm.io/datatypes"
)

var (
	ErrMissingRequestID  = errors.New("missing request_id")
	ErrCharacterNotFound = errors.New("character not found")
	// ErrMediaNotFound 回调先于素材记录到达，返回错误让 fal 重投
	ErrMediaNotFound = errors.New("media not found for request")
)

// Kind 回调类型
type Kind string

const (
	KindTraining Kind = "training"
	KindVideo    Kind = "video"
	KindImage    Kind = "image"
	KindUnknown  Kind = "unknown"
)

// LogEntry fal 日志条目
type LogEntry struct {
	Message string `json:"message"`
}

// WebhookPayload fal 回调内容。结果可能在 output 或 payload 中。
type WebhookPayload struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Model     string          `json:"model"`
	Logs      []LogEntry      `json:"logs"`
	Output    json.RawMessage `json:"output"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
}

func (p WebhookPayload) result() json.RawMessage {
	if len(p.Output) > 0 && string(p.Output) != "null" {
		return p.Output
	}
	return p.Payload
}

func (p WebhookPayload) succeeded() bool {
	return strings.EqualFold(p.Status, "completed") || strings.EqualFold(p.Status, "OK")
}

func (p WebhookPayload) failed() bool {
	return strings.EqualFold(p.Status, "failed") || strings.EqualFold(p.Status, "ERROR")
}

// Classify 按模型名路由：LoRA 训练优先，其次视频，再次图片
func Classify(p WebhookPayload) Kind {
	m := p.Model
	logModel := ""
	for _, l := range p.Logs {
		if strings.Contains(l.Message, "model") {
			logModel = l.Message
			break
		}
	}

	switch {
	case strings.Contains(m, "flux-lora-fast-training") || strings.Contains(m, "lora") || strings.Contains(logModel, "lora"):
		return KindTraining
	case strings.Contains(m, "runway") || strings.Contains(m, "video"):
		return KindVideo
	case strings.Contains(m, "image") || strings.Contains(m, "flux"):
		return KindImage
	}
	return KindUnknown
}

// CharacterStore 训练回调所需的角色访问
type CharacterStore interface {
	FindByTrainingJobID(ctx context.Context, jobID string) (*model.Character, error)
	Update(ctx context.Context, id string, upd repository.CharacterUpdate) (string, error)
}

// MediaStore 生成回调所需的素材访问
type MediaStore interface {
	FindByRequestID(ctx context.Context, requestID string) (*model.MediaItem, error)
	Update(ctx context.Context, id string, upd repository.MediaUpdate) (string, error)
}

// Deduper 回调去重
type Deduper interface {
	FirstSeen(ctx context.Context, requestID, status string) (bool, error)
	Forget(ctx context.Context, requestID, status string) error
}

// WebhookResult 处理结果，直接作为响应返回
type WebhookResult struct {
	Received    bool   `json:"received"`
	Type        Kind   `json:"type"`
	Model       string `json:"model,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
	MediaID     string `json:"mediaId,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// WebhookProcessor 处理 fal 回调
type WebhookProcessor struct {
	characters CharacterStore
	media      MediaStore
	dedupe     Deduper
}

// NewWebhookProcessor dedupe 可以为 nil
func NewWebhookProcessor(characters CharacterStore, mediaStore MediaStore, dedupe Deduper) *WebhookProcessor {
	return &WebhookProcessor{characters: characters, media: mediaStore, dedupe: dedupe}
}

// Handle 处理一次回调。相同 request_id 与状态的重复投递直接确认。
func (w *WebhookProcessor) Handle(ctx context.Context, p WebhookPayload) (*WebhookResult, error) {
	kind := Classify(p)
	res := &WebhookResult{Received: true, Type: kind, Model: p.Model}

	if w.dedupe != nil && p.RequestID != "" {
		first, err := w.dedupe.FirstSeen(ctx, p.RequestID, p.Status)
		if err != nil {
			logger.Warn("webhook 去重失败，继续处理", logger.String("requestId", p.RequestID), logger.ErrorField(err))
		} else if !first {
			res.Duplicate = true
			return res, nil
		}
	}

	var err error
	switch kind {
	case KindTraining:
		err = w.handleTraining(ctx, p, res)
	default:
		err = w.handleGeneration(ctx, p, res)
	}
	if err != nil && w.dedupe != nil && p.RequestID != "" {
		if ferr := w.dedupe.Forget(ctx, p.RequestID, p.Status); ferr != nil {
			logger.Warn("清除 webhook 去重记录失败", logger.String("requestId", p.RequestID), logger.ErrorField(ferr))
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

type loraOutput struct {
	DiffusersLoraFile struct {
		URL string `json:"url"`
	} `json:"diffusers_lora_file"`
}

func (w *WebhookProcessor) handleTraining(ctx context.Context, p WebhookPayload, res *WebhookResult) error {
	if p.RequestID == "" {
		return ErrMissingRequestID
	}

	character, err := w.characters.FindByTrainingJobID(ctx, p.RequestID)
	if err != nil {
		return fmt.Errorf("find character: %w", err)
	}
	if character == nil {
		logger.Error("未找到训练任务对应的角色", logger.String("requestId", p.RequestID))
		return ErrCharacterNotFound
	}
	res.CharacterID = character.ID

	var out loraOutput
	if raw := p.result(); len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}

	switch {
	case p.succeeded() && out.DiffusersLoraFile.URL != "":
		status := model.TrainingCompleted
		empty := ""
		upd := repository.CharacterUpdate{
			TrainingStatus: &status,
			LoraURL:        &out.DiffusersLoraFile.URL,
			TrainingError:  &empty,
		}
		if _, err := w.characters.Update(ctx, character.ID, upd); err != nil {
			return fmt.Errorf("update character: %w", err)
		}
		logger.Info("角色训练完成", logger.String("characterId", character.ID))
	case p.failed():
		status := model.TrainingFailed
		msg := p.Error
		if msg == "" {
			msg = "Training failed"
		}
		upd := repository.CharacterUpdate{TrainingStatus: &status, TrainingError: &msg}
		if _, err := w.characters.Update(ctx, character.ID, upd); err != nil {
			return fmt.Errorf("update character: %w", err)
		}
		logger.Warn("角色训练失败", logger.String("characterId", character.ID), logger.String("error", msg))
	}
	return nil
}

// handleGeneration 按 request_id 更新生成素材
func (w *WebhookProcessor) handleGeneration(ctx context.Context, p WebhookPayload, res *WebhookResult) error {
	if p.RequestID == "" || w.media == nil {
		return nil
	}

	item, err := w.media.FindByRequestID(ctx, p.RequestID)
	if err != nil {
		return fmt.Errorf("find media: %w", err)
	}
	if item == nil {
		logger.Warn("回调没有对应的素材，等待重投", logger.String("requestId", p.RequestID), logger.String("model", p.Model))
		return ErrMediaNotFound
	}
	res.MediaID = item.ID

	var upd repository.MediaUpdate
	switch {
	case p.succeeded():
		status := model.MediaStatusCompleted
		upd.Status = &status
		if raw := p.result(); len(raw) > 0 {
			upd.Output = datatypes.JSON(raw)
			item.Output = upd.Output
		}
		if u := media.ResolveMediaURL(*item); u != "" {
			upd.URL = &u
		}
	case p.failed():
		status := model.MediaStatusFailed
		upd.Status = &status
		if p.Error != "" {
			meta, _ := json.Marshal(map[string]string{"error": p.Error})
			upd.Metadata = datatypes.JSON(meta)
		}
	default:
		status := model.MediaStatusRunning
		upd.Status = &status
	}

	if _, err := w.media.Update(ctx, item.ID, upd); err != nil {
		return fmt.Errorf("update media: %w", err)
	}
	logger.Info("生成素材状态已更新",
		logger.String("mediaId", item.ID),
		logger.String("status", string(*upd.Status)))
	return nil
}
