// Package s3 处理S3存储操作.
//
// 每个组织可以配置独立的 bucket 与凭证，Client 按凭证缓存 minio 客户端，
// 所有对象操作都以组织编码为作用域.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yeisme/treevault/pkg/configs"
	nlog "github.com/yeisme/treevault/pkg/log"
)

// ErrObjectNotFound 对象不存在.
var ErrObjectNotFound = errors.New("s3: object not found")

// ObjectStat 对象元信息.
type ObjectStat struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
}

// Client 组织级 MinIO 客户端集合.
type Client struct {
	cfg      configs.S3Config
	endpoint string
	secure   bool

	mu      sync.Mutex
	clients map[string]*minio.Client // access key -> client
}

// New 初始化 MinIO 客户端，确保所有组织使用的 bucket 存在.
// 启动阶段的连接失败按退避重试.
func New(ctx context.Context) (*Client, error) {
	cfg := configs.GetConfig().S3
	endpoint, secure := cfg.Endpoint, cfg.UseSSL

	// 允许用户传完整 schema endpoint（http:// 或 https://）
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			secure = true
		}
	}

	c := &Client{cfg: cfg, endpoint: endpoint, secure: secure, clients: map[string]*minio.Client{}}

	err := retry.Do(
		func() error { return c.ensureBuckets(ctx) },
		retry.Context(ctx),
		retry.Attempts(max(configs.GetConfig().DB.ConnectAttempts, 1)),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			nlog.Logger().Warn().Err(err).Uint("attempt", n+1).Msg("s3 连接失败，重试中")
		}),
	)
	if err != nil {
		return nil, err
	}

	nlog.Logger().Info().Str("endpoint", cfg.Endpoint).Int("bucket_count", len(cfg.Buckets())).Msg("s3 connected")

	return c, nil
}

func (c *Client) ensureBuckets(ctx context.Context) error {
	scopes := []configs.S3OrgConfig{c.cfg.ForOrganization("")}
	for code := range c.cfg.Organizations {
		scopes = append(scopes, c.cfg.ForOrganization(code))
	}

	seen := map[string]struct{}{}

	for _, org := range scopes {
		if _, ok := seen[org.BucketName]; ok || org.BucketName == "" {
			continue
		}

		seen[org.BucketName] = struct{}{}

		cli, err := c.client(org)
		if err != nil {
			return err
		}

		exists, err := cli.BucketExists(ctx, org.BucketName)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", org.BucketName, err)
		}

		if !exists {
			if err := cli.MakeBucket(ctx, org.BucketName, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
				return fmt.Errorf("create bucket %s: %w", org.BucketName, err)
			}

			nlog.Logger().Info().Str("bucket", org.BucketName).Msg("bucket created")
		}
	}

	return nil
}

// client 按凭证返回缓存的 minio 客户端.
func (c *Client) client(org configs.S3OrgConfig) (*minio.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cli, ok := c.clients[org.AccessKeyID]; ok {
		return cli, nil
	}

	cli, err := minio.New(c.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(org.AccessKeyID, org.SecretAccessKey, ""),
		Secure: c.secure,
		Region: c.cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	cli.SetAppInfo("treevault", configs.AppVersion)
	c.clients[org.AccessKeyID] = cli

	return cli, nil
}

func (c *Client) scope(orgCode string) (*minio.Client, string, error) {
	org := c.cfg.ForOrganization(orgCode)

	cli, err := c.client(org)
	if err != nil {
		return nil, "", err
	}

	return cli, org.BucketName, nil
}

// CreateFolder 写入以分隔符结尾的空对象作为目录标记.
func (c *Client) CreateFolder(ctx context.Context, orgCode, key string) error {
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	return c.CreateObject(ctx, orgCode, key, nil)
}

// CreateObject 写入对象.
func (c *Client) CreateObject(ctx context.Context, orgCode, key string, body []byte) error {
	cli, bucket, err := c.scope(orgCode)
	if err != nil {
		return err
	}

	_, err = cli.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	return nil
}

// HeadObject 获取对象元信息，不存在时返回 ErrObjectNotFound.
func (c *Client) HeadObject(ctx context.Context, orgCode, key string) (*ObjectStat, error) {
	cli, bucket, err := c.scope(orgCode)
	if err != nil {
		return nil, err
	}

	info, err := cli.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}

		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	return &ObjectStat{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

// CopyObject 复制对象. 源与目标使用同一凭证时走服务端复制，否则流式中转.
func (c *Client) CopyObject(ctx context.Context, srcOrg, srcKey, dstOrg, dstKey string) error {
	srcCli, srcBucket, err := c.scope(srcOrg)
	if err != nil {
		return err
	}

	dstCli, dstBucket, err := c.scope(dstOrg)
	if err != nil {
		return err
	}

	if srcCli == dstCli {
		_, err = dstCli.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
			minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
		)
		if err != nil {
			return fmt.Errorf("copy object %s -> %s: %w", srcKey, dstKey, err)
		}

		return nil
	}

	obj, err := srcCli.GetObject(ctx, srcBucket, srcKey, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s: %w", srcKey, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return fmt.Errorf("stat object %s: %w", srcKey, err)
	}

	_, err = dstCli.PutObject(ctx, dstBucket, dstKey, obj, info.Size, minio.PutObjectOptions{ContentType: info.ContentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", dstKey, err)
	}

	return nil
}

// RenameObject 组织内重命名：复制后删除源对象.
func (c *Client) RenameObject(ctx context.Context, orgCode, srcKey, dstKey string) error {
	if err := c.CopyObject(ctx, orgCode, srcKey, orgCode, dstKey); err != nil {
		return err
	}

	return c.DeleteObject(ctx, orgCode, srcKey)
}

// DeleteObject 删除对象，对象不存在视为成功.
func (c *Client) DeleteObject(ctx context.Context, orgCode, key string) error {
	cli, bucket, err := c.scope(orgCode)
	if err != nil {
		return err
	}

	if err := cli.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}

	return nil
}

// HealthCheck 通过检查默认 bucket 验证连接.
func (c *Client) HealthCheck(ctx context.Context) error {
	cli, bucket, err := c.scope("")
	if err != nil {
		return err
	}

	_, err = cli.BucketExists(ctx, bucket)

	return err
}

// Close 关闭 S3 客户端连接（无实际操作，接口兼容）.
func (c *Client) Close() error {
	return nil
}
