package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"Anicut/config"
	"Anicut/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
)

// InitMinio 初始化 MinIO 客户端并确保存储桶存在
func InitMinio(cfg *config.Config) error {
	logger.Info("正在连接 MinIO 服务器",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("MinIO 客户端初始化成功")
	return nil
}

// GetMinioClient 获取 MinIO 客户端实例
func GetMinioClient() *minio.Client {
	return minioClient
}

// ObjectStore 存储桶内的对象读写
type ObjectStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	scheme    string
	endpoint  string
}

// NewObjectStore 基于已初始化的客户端创建对象存储
func NewObjectStore(client *minio.Client, cfg *config.Config) *ObjectStore {
	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return &ObjectStore{
		client:    client,
		bucket:    cfg.MinioBucket,
		publicURL: strings.TrimRight(cfg.MinioPublicURL, "/"),
		scheme:    scheme,
		endpoint:  cfg.MinioEndpoint,
	}
}

// Put 上传对象并返回公开访问地址
func (s *ObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("MinIO 客户端未初始化")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象失败 %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Get 读取对象，调用方负责关闭
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.client == nil {
		return nil, fmt.Errorf("MinIO 客户端未初始化")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象失败 %s: %w", key, err)
	}
	return obj, nil
}

// Delete 删除对象
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return fmt.Errorf("MinIO 客户端未初始化")
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// URL 对象的公开地址。配置了 MINIO_PUBLIC_URL 时使用该前缀。
func (s *ObjectStore) URL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key)
	}
	return fmt.Sprintf("%s://%s/%s/%s", s.scheme, s.endpoint, s.bucket, key)
}

// KeyFromURL 从公开地址反推对象键，不属于本存储桶时返回 false
func (s *ObjectStore) KeyFromURL(url string) (string, bool) {
	prefix := s.URL("")
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

// MediaKey 项目素材对象键
func MediaKey(projectID, id, ext string) string {
	return fmt.Sprintf("projects/%s/media/%s%s", projectID, id, strings.ToLower(ext))
}

// CharacterImageKey 角色训练图片对象键
func CharacterImageKey(characterID, id, ext string) string {
	return fmt.Sprintf("characters/%s/images/%s%s", characterID, id, strings.ToLower(ext))
}

// TrainingKey 角色训练图片压缩包对象键
func TrainingKey(characterID string, at time.Time) string {
	return fmt.Sprintf("characters/%s/training-%d.zip", characterID, at.Unix())
}
