package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// 没有配置 Region 时的兜底值 (MinIO / localstack 都接受)
const defaultRegion = "us-east-1"

// CredentialSource 记录最终采用了哪一种凭证来源，便于排查
type CredentialSource string

const (
	CredentialsExplicit    CredentialSource = "explicit"    // 配置里显式给出的 Key
	CredentialsEnvironment CredentialSource = "environment" // AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY
	CredentialsAmbient     CredentialSource = "ambient"     // SDK 默认链: shared config, SSO, IMDS, IRSA ...
)

// objectAPI 是 Adapter 用到的 S3 客户端子集，测试时可以替换
type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Adapter 实现了 storage.BlobStore 接口
type Adapter struct {
	client objectAPI
	bucket string
	source CredentialSource
}

// Config 用于初始化 Adapter
type Config struct {
	Bucket          string // 必填
	Region          string
	Endpoint        string // 覆盖默认 Endpoint，用于 S3 兼容后端
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ForcePathStyle 强制 Path Style (MinIO 必须)，配置了 Endpoint 时自动开启
	ForcePathStyle bool
	// CreateBucket 在 Bucket 不存在时尝试创建 (测试环境用)
	CreateBucket bool

	Logger *slog.Logger
}

// Validate 只检查必填项，其余配置都有兜底
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("%w: bucket is required", storage.ErrInvalidConfig)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%w: access key id and secret access key must be set together", storage.ErrInvalidConfig)
	}
	return nil
}

// resolveCredentials 按固定顺序解析凭证:
// 显式配置 -> 环境变量 -> 环境身份 (SDK 默认链)
// 返回 nil provider 表示交给 SDK 默认链
func resolveCredentials(cfg Config, lookupEnv func(string) (string, bool)) (aws.CredentialsProvider, CredentialSource) {
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken), CredentialsExplicit
	}

	id, okID := lookupEnv("AWS_ACCESS_KEY_ID")
	secret, okSecret := lookupEnv("AWS_SECRET_ACCESS_KEY")
	if okID && okSecret && id != "" && secret != "" {
		token, _ := lookupEnv("AWS_SESSION_TOKEN")
		return credentials.NewStaticCredentialsProvider(id, secret, token), CredentialsEnvironment
	}

	return nil, CredentialsAmbient
}

// NewAdapter 初始化 S3 客户端 (AWS SDK v2)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	// 1. Fail-fast: 必填项
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 2. 凭证解析链
	provider, source := resolveCredentials(cfg, os.LookupEnv)
	var opts []func(*config.LoadOptions) error
	if provider != nil {
		opts = append(opts, config.WithCredentialsProvider(provider))
	} else {
		logger.Warn("no access key configured, using implicit AWS authorization")
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}

	// 3. 创建 S3 客户端时注入 Endpoint 覆盖
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// 自定义 Endpoint 基本都是 MinIO 之类，必须用 Path Style
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	logger.Info("s3 blob store configured",
		slog.String("bucket", cfg.Bucket),
		slog.String("region", awsCfg.Region),
		slog.String("endpoint", cfg.Endpoint),
		slog.String("credentials", string(source)),
	)

	// 4. (可选) 自动创建 Bucket
	if cfg.CreateBucket {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
			if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
				// 并发创建或权限不足时会失败，后续请求会暴露真正的问题
				logger.Warn("failed to ensure bucket exists", slog.String("bucket", cfg.Bucket), slog.Any("err", err))
			}
		}
	}

	return &Adapter{client: client, bucket: cfg.Bucket, source: source}, nil
}

// CredentialSource 返回实际使用的凭证来源
func (s *Adapter) CredentialSource() CredentialSource { return s.source }

// Bucket 返回命名空间
func (s *Adapter) Bucket() string { return s.bucket }

// Put 上传对象 (覆盖写)
func (s *Adapter) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return storage.Unavailable("s3 put "+key, err)
	}
	return nil
}

// Get 下载对象的完整内容
func (s *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Unavailable("s3 get "+key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, storage.Unavailable("s3 read "+key, err)
	}
	return data, nil
}

// List 分页枚举 prefix + "/" 下的所有对象
func (s *Adapter) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix + "/"),
	})

	var objects []storage.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storage.Unavailable("s3 list "+prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// 有些 S3 兼容实现会返回 "目录占位" 对象
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, storage.ObjectInfo{Key: key, Size: aws.ToInt64(obj.Size)})
		}
	}
	return objects, nil
}

// isNotFoundError 判断错误是否表示对象不存在
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}

	// 兼容性：某些 S3 实现只返回 generic 404
	return strings.Contains(err.Error(), "StatusCode: 404")
}
