package fal

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"Anicut/logger"
	"Anicut/model"
	"Anicut/repository"
	"Anicut/storage"
)

// LoRA 训练参数
const (
	TrainingModel = "fal-ai/flux-lora-fast-training"
	DefaultSteps  = 1000
	MinSteps      = 500
	MaxSteps      = 4000
	TriggerWord   = "character_name"
)

var (
	ErrNoTrainingImages = errors.New("no training images found")
	ErrTrainingStarted  = errors.New("training already in progress or completed")
)

// ClampSteps 未指定时取默认值，其余限制在 [500, 4000]
func ClampSteps(steps int) int {
	if steps <= 0 {
		return DefaultSteps
	}
	if steps < MinSteps {
		return MinSteps
	}
	if steps > MaxSteps {
		return MaxSteps
	}
	return steps
}

// TrainingInput flux-lora-fast-training 的输入
type TrainingInput struct {
	ImagesDataURL string `json:"images_data_url"`
	TriggerWord   string `json:"trigger_word"`
	Steps         int    `json:"steps"`
	CreateMasks   bool   `json:"create_masks"`
	IsStyle       bool   `json:"is_style"`
}

// ObjectStore 训练图片读取与压缩包上传
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	KeyFromURL(url string) (string, bool)
}

// TrainingCharacters 训练所需的角色访问
type TrainingCharacters interface {
	Find(ctx context.Context, id string) (*model.Character, error)
	Update(ctx context.Context, id string, upd repository.CharacterUpdate) (string, error)
}

// Trainer 打包训练图片并提交 LoRA 训练
type Trainer struct {
	characters TrainingCharacters
	objects    ObjectStore
	submitter  Submitter
	webhookURL string
	httpClient *http.Client
	now        func() time.Time
}

// NewTrainer 创建训练器
func NewTrainer(characters TrainingCharacters, objects ObjectStore, submitter Submitter, webhookURL string) *Trainer {
	return &Trainer{
		characters: characters,
		objects:    objects,
		submitter:  submitter,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
	}
}

// Start 启动训练并返回任务ID。提交失败时角色标记为 failed。
func (t *Trainer) Start(ctx context.Context, characterID string, steps int) (string, error) {
	character, err := t.characters.Find(ctx, characterID)
	if err != nil {
		return "", fmt.Errorf("find character: %w", err)
	}
	if character == nil {
		return "", ErrCharacterNotFound
	}
	if len(character.TrainingImages) == 0 {
		return "", ErrNoTrainingImages
	}
	if character.TrainingStatus == model.TrainingRunning || character.TrainingStatus == model.TrainingCompleted {
		return "", ErrTrainingStarted
	}

	running := model.TrainingRunning
	empty := ""
	if _, err := t.characters.Update(ctx, characterID, repository.CharacterUpdate{
		TrainingStatus: &running,
		TrainingError:  &empty,
	}); err != nil {
		return "", fmt.Errorf("update character: %w", err)
	}

	jobID, err := t.submit(ctx, character, ClampSteps(steps))
	if err != nil {
		failed := model.TrainingFailed
		msg := err.Error()
		if _, uerr := t.characters.Update(ctx, characterID, repository.CharacterUpdate{
			TrainingStatus: &failed,
			TrainingError:  &msg,
		}); uerr != nil {
			logger.Error("标记训练失败时出错", logger.String("characterId", characterID), logger.ErrorField(uerr))
		}
		return "", err
	}

	if _, err := t.characters.Update(ctx, characterID, repository.CharacterUpdate{TrainingJobID: &jobID}); err != nil {
		return "", fmt.Errorf("record training job: %w", err)
	}
	logger.Info("训练任务已提交", logger.String("characterId", characterID), logger.String("jobId", jobID))
	return jobID, nil
}

func (t *Trainer) submit(ctx context.Context, character *model.Character, steps int) (string, error) {
	var buf bytes.Buffer
	if err := t.writeZip(ctx, &buf, character.TrainingImages); err != nil {
		return "", err
	}

	key := storage.TrainingKey(character.ID, t.now())
	zipURL, err := t.objects.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/zip")
	if err != nil {
		return "", fmt.Errorf("upload training zip: %w", err)
	}

	res, err := t.submitter.Submit(ctx, TrainingModel, TrainingInput{
		ImagesDataURL: zipURL,
		TriggerWord:   TriggerWord,
		Steps:         steps,
		CreateMasks:   true,
		IsStyle:       false,
	}, t.webhookURL)
	if err != nil {
		return "", err
	}
	return res.RequestID, nil
}

// writeZip 依次写入 image_1.ext、image_2.ext ...
func (t *Trainer) writeZip(ctx context.Context, w io.Writer, images []string) error {
	zw := zip.NewWriter(w)
	for i, src := range images {
		rc, ext, err := t.open(ctx, src)
		if err != nil {
			zw.Close()
			return fmt.Errorf("fetch image %d: %w", i+1, err)
		}
		fw, err := zw.Create(fmt.Sprintf("image_%d.%s", i+1, ext))
		if err == nil {
			_, err = io.Copy(fw, rc)
		}
		rc.Close()
		if err != nil {
			zw.Close()
			return fmt.Errorf("zip image %d: %w", i+1, err)
		}
	}
	return zw.Close()
}

// open 本存储桶内的图片直接读对象，其余走 HTTP
func (t *Trainer) open(ctx context.Context, src string) (io.ReadCloser, string, error) {
	if key, ok := t.objects.KeyFromURL(src); ok {
		rc, err := t.objects.Get(ctx, key)
		if err != nil {
			return nil, "", err
		}
		return rc, extFromName(key), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.Body, extFromContentType(resp.Header.Get("Content-Type"), src), nil
}

func extFromName(name string) string {
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."); ext != "" {
		return ext
	}
	return "jpg"
}

func extFromContentType(ct, fallback string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		if parts := strings.SplitN(mt, "/", 2); len(parts) == 2 && parts[0] == "image" && parts[1] != "" {
			return parts[1]
		}
	}
	return extFromName(fallback)
}
