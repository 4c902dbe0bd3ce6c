package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"techquest_backend/internal/config"
	"techquest_backend/internal/util"
	"techquest_backend/pkg/logger"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// 对象存储中的报告链接有效期
const reportLinkTTL = 7 * 24 * time.Hour

// ReportBackend 评测报告的存放后端
type ReportBackend interface {
	Put(ctx context.Context, key string, body []byte) error
	Link(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// localReports 写入本地目录，由 /reports 静态路由对外提供
type localReports struct {
	dir string
}

func (b *localReports) Put(ctx context.Context, key string, body []byte) error {
	dst := filepath.Join(b.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, body, 0644)
}

func (b *localReports) Link(ctx context.Context, key string) (string, error) {
	return "/reports/" + key, nil
}

func (b *localReports) Remove(ctx context.Context, key string) error {
	return os.Remove(filepath.Join(b.dir, filepath.FromSlash(key)))
}

// minioReports 报告含学生代码，只通过预签名链接访问
type minioReports struct {
	client *minio.Client
	bucket string
}

func newMinioReports(cfg *config.StorageConfig) (*minioReports, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	return &minioReports{client: client, bucket: cfg.MinioBucket}, nil
}

func (b *minioReports) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: util.MimeHTML,
	})
	return err
}

func (b *minioReports) Link(ctx context.Context, key string) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, reportLinkTTL, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (b *minioReports) Remove(ctx context.Context, key string) error {
	return b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
}

// ossReports 阿里云OSS
type ossReports struct {
	bucket *oss.Bucket
}

func newOSSReports(cfg *config.StorageConfig) (*ossReports, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &ossReports{bucket: bucket}, nil
}

func (b *ossReports) Put(ctx context.Context, key string, body []byte) error {
	return b.bucket.PutObject(key, bytes.NewReader(body), oss.ContentType(util.MimeHTML), oss.WithContext(ctx))
}

func (b *ossReports) Link(ctx context.Context, key string) (string, error) {
	return b.bucket.SignURL(key, oss.HTTPGet, int64(reportLinkTTL/time.Second))
}

func (b *ossReports) Remove(ctx context.Context, key string) error {
	return b.bucket.DeleteObject(key, oss.WithContext(ctx))
}

// StorageService 评测报告归档
type StorageService struct {
	Backend ReportBackend
}

func NewStorageService(cfg *config.Config) *StorageService {
	var backend ReportBackend
	switch cfg.Storage.Type {
	case util.StorageMinio:
		b, err := newMinioReports(&cfg.Storage)
		if err != nil {
			logger.Log.Error("minio init failed, falling back to local storage", zap.Error(err))
		} else {
			backend = b
		}
	case util.StorageOSS:
		b, err := newOSSReports(&cfg.Storage)
		if err != nil {
			logger.Log.Error("oss init failed, falling back to local storage", zap.Error(err))
		} else {
			backend = b
		}
	}

	if backend == nil {
		backend = &localReports{dir: cfg.Storage.LocalPath}
	}
	return &StorageService{Backend: backend}
}

// NewLocalStorageService 直接写本地目录
func NewLocalStorageService(dir string) *StorageService {
	return &StorageService{Backend: &localReports{dir: dir}}
}

func ReportKey(quizID uint) string {
	return fmt.Sprintf("%s/%d/%s.html", util.EvaluationReportPrefix, quizID, uuid.NewString())
}

// ArchiveReport 保存报告并返回访问链接
func (s *StorageService) ArchiveReport(ctx context.Context, quizID uint, html string) (key, link string, err error) {
	key = ReportKey(quizID)
	if err = s.Backend.Put(ctx, key, []byte(html)); err != nil {
		return "", "", err
	}
	link, err = s.Backend.Link(ctx, key)
	if err != nil {
		return key, "", err
	}
	return key, link, nil
}

func (s *StorageService) RemoveReport(ctx context.Context, key string) error {
	return s.Backend.Remove(ctx, key)
}
