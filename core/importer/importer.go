package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Anicut/logger"
	"Anicut/model"
	"Anicut/storage"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ErrUnsupportedFile 不是可导入的媒体文件
var ErrUnsupportedFile = errors.New("unsupported media file")

// DefaultSettle 文件最后一次写入后等待的时间
const DefaultSettle = 500 * time.Millisecond

// MediaCreator 写入素材记录
type MediaCreator interface {
	Create(ctx context.Context, item *model.MediaItem) (string, error)
}

// Uploader 上传对象并返回访问地址
type Uploader interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Importer 把目录中的新文件导入为项目的上传素材
type Importer struct {
	projectID string
	media     MediaCreator
	objects   Uploader
	settle    time.Duration
	onImport  func(*model.MediaItem)
}

// Option 导入器选项
type Option func(*Importer)

// WithSettle 设置写入稳定等待时间
func WithSettle(d time.Duration) Option {
	return func(i *Importer) {
		if d > 0 {
			i.settle = d
		}
	}
}

// WithImportHook 每导入一个文件调用一次
func WithImportHook(fn func(*model.MediaItem)) Option {
	return func(i *Importer) { i.onImport = fn }
}

// New 创建导入器
func New(projectID string, mediaStore MediaCreator, objects Uploader, opts ...Option) *Importer {
	i := &Importer{
		projectID: projectID,
		media:     mediaStore,
		objects:   objects,
		settle:    DefaultSettle,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MediaTypeFor 按扩展名判断素材类型，音频归为音乐
func MediaTypeFor(name string) (model.MediaType, bool) {
	switch storage.InferKind(name) {
	case "image":
		return model.MediaTypeImage, true
	case "video":
		return model.MediaTypeVideo, true
	case "audio":
		return model.MediaTypeMusic, true
	}
	return "", false
}

// Importable 忽略隐藏文件与非媒体文件
func Importable(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := MediaTypeFor(base)
	return ok
}

// ImportFile 上传单个文件并创建 completed 状态的素材
func (i *Importer) ImportFile(ctx context.Context, path string) (*model.MediaItem, error) {
	mediaType, ok := MediaTypeFor(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFile, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	url, err := i.objects.Put(ctx, storage.MediaKey(i.projectID, id, ext), f, info.Size(), contentType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"originalName": filepath.Base(path),
		"size":         info.Size(),
		"contentType":  contentType,
	})
	item := &model.MediaItem{
		ID:        id,
		ProjectID: i.projectID,
		Kind:      model.MediaKindUploaded,
		MediaType: mediaType,
		Status:    model.MediaStatusCompleted,
		URL:       url,
		Metadata:  datatypes.JSON(meta),
	}
	if _, err := i.media.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create media: %w", err)
	}
	return item, nil
}

// Watch 监听目录直到 ctx 结束。同一路径只导入一次。
func (i *Importer) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("开始监听导入目录", logger.String("dir", dir), logger.String("projectId", i.projectID))

	processed := make(map[string]bool)
	q := newSettleQueue(i.settle)
	defer q.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !Importable(event.Name) || processed[event.Name] {
				continue
			}
			q.touch(event.Name)
		case name := <-q.ready:
			q.done(name)
			if processed[name] {
				continue
			}
			processed[name] = true
			item, err := i.ImportFile(ctx, name)
			if err != nil {
				logger.Warn("导入文件失败", logger.String("file", name), logger.ErrorField(err))
				continue
			}
			logger.Info("文件已导入",
				logger.String("file", name),
				logger.String("mediaId", item.ID),
				logger.String("mediaType", string(item.MediaType)))
			if i.onImport != nil {
				i.onImport(item)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}

// settleQueue 路径在最后一次写入后静默 delay 才进入 ready
type settleQueue struct {
	delay   time.Duration
	pending map[string]*time.Timer
	ready   chan string
	stop    chan struct{}
}

func newSettleQueue(delay time.Duration) *settleQueue {
	return &settleQueue{
		delay:   delay,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string),
		stop:    make(chan struct{}),
	}
}

// touch 记录一次写入，已在等待的路径重新计时
func (q *settleQueue) touch(name string) {
	if t, exists := q.pending[name]; exists {
		t.Reset(q.delay)
		return
	}
	q.pending[name] = time.AfterFunc(q.delay, func() { q.deliver(name) })
}

// deliver 队列关闭后直接放弃，不阻塞计时器协程
func (q *settleQueue) deliver(name string) bool {
	select {
	case q.ready <- name:
		return true
	case <-q.stop:
		return false
	}
}

func (q *settleQueue) done(name string) {
	delete(q.pending, name)
}

func (q *settleQueue) close() {
	close(q.stop)
	for _, t := range q.pending {
		t.Stop()
	}
}
