package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Anicut/logger"
	"Anicut/model"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// ErrEmptyTimeline 没有可渲染的片段
var ErrEmptyTimeline = errors.New("timeline has no clips to render")

// RenderJob 发往渲染服务的导出任务
type RenderJob struct {
	JobID       string             `json:"jobId"`
	ProjectID   string             `json:"projectId"`
	UserID      string             `json:"userId"`
	Title       string             `json:"title"`
	AspectRatio model.AspectRatio  `json:"aspectRatio"`
	SpanMs      int64              `json:"spanMs"`
	RequestedAt time.Time          `json:"requestedAt"`
	Composition *model.Composition `json:"composition"`
}

// Receipt 投递结果
type Receipt struct {
	JobID     string `json:"jobId"`
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// CompositionSource 提供项目的时间轴快照
type CompositionSource interface {
	Composition(ctx context.Context, projectID string) (*model.Composition, error)
}

// NewProducerConfig 导出使用的 sarama 配置，同步发送需要 Return.Successes
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// NewSyncProducer 连接 Kafka 集群
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect kafka %v: %w", brokers, err)
	}
	return producer, nil
}

// Publisher 把时间轴导出为渲染任务
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	source   CompositionSource
	spanMs   int64
	now      func() time.Time
}

// NewPublisher 创建导出发布器
func NewPublisher(producer sarama.SyncProducer, topic string, source CompositionSource, spanMs int64) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		source:   source,
		spanMs:   spanMs,
		now:      time.Now,
	}
}

// Export 读取项目快照并以项目ID为 key 投递，同一项目的任务落在同一分区
func (p *Publisher) Export(ctx context.Context, project *model.Project) (*Receipt, error) {
	comp, err := p.source.Composition(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load composition: %w", err)
	}
	if !hasClips(comp) {
		return nil, ErrEmptyTimeline
	}

	job := RenderJob{
		JobID:       uuid.NewString(),
		ProjectID:   project.ID,
		UserID:      project.UserID,
		Title:       project.Title,
		AspectRatio: project.AspectRatio,
		SpanMs:      p.spanMs,
		RequestedAt: p.now().UTC(),
		Composition: comp,
	}
	return p.Publish(ctx, job)
}

// Publish 同步发送一条渲染任务
func (p *Publisher) Publish(ctx context.Context, job RenderJob) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal render job: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(job.ProjectID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("job-id"), Value: []byte(job.JobID)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("渲染任务投递失败", logger.String("projectId", job.ProjectID), logger.ErrorField(err))
		return nil, fmt.Errorf("publish render job: %w", err)
	}

	logger.Info("渲染任务已投递",
		logger.String("jobId", job.JobID),
		logger.String("projectId", job.ProjectID),
		logger.Int64("offset", offset))
	return &Receipt{JobID: job.JobID, Topic: p.topic, Partition: partition, Offset: offset}, nil
}

// Close 关闭生产者
func (p *Publisher) Close() error {
	return p.producer.Close()
}

func hasClips(comp *model.Composition) bool {
	if comp == nil {
		return false
	}
	for _, frames := range comp.Frames {
		if len(frames) > 0 {
			return true
		}
	}
	return false
}
