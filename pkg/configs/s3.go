package configs

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// S3Config MinIO S3存储配置.
// Organizations 为组织级覆盖：每个组织可以使用独立的 bucket 与凭证，未配置的组织使用默认值.
type S3Config struct {
	Endpoint        string                 `mapstructure:"endpoint"          rule:"required"`
	AccessKeyID     string                 `mapstructure:"access_key_id"`
	SecretAccessKey string                 `mapstructure:"secret_access_key"`
	UseSSL          bool                   `mapstructure:"use_ssl"`
	BucketName      string                 `mapstructure:"bucket_name"       rule:"required"`
	Region          string                 `mapstructure:"region"`
	Organizations   map[string]S3OrgConfig `mapstructure:"organizations"`
}

// S3OrgConfig 单个组织的对象存储凭证.
type S3OrgConfig struct {
	BucketName      string `mapstructure:"bucket_name"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

const (
	DefaultS3Endpoint        = "localhost:9000" // 默认S3端点
	DefaultS3AccessKeyID     = "minioadmin"     // 默认访问密钥ID
	DefaultS3SecretAccessKey = "minioadmin"     // 默认秘密访问密钥
	DefaultS3UseSSL          = false            // 默认是否使用SSL
	DefaultS3BucketName      = "treevault"      // 默认存储桶名称
	DefaultS3Region          = "us-east-1"      // 默认区域
)

// GetEndpointURL 获取完整的端点URL.
func (c *S3Config) GetEndpointURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s", scheme, c.Endpoint)
}

// ForOrganization 返回组织的有效配置，缺省字段回落到全局值.
// viper 会把 map 的键转为小写，因此按小写查找.
func (c *S3Config) ForOrganization(org string) S3OrgConfig {
	eff := S3OrgConfig{
		BucketName:      c.BucketName,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
	}

	o, ok := c.Organizations[strings.ToLower(org)]
	if !ok {
		return eff
	}

	if o.BucketName != "" {
		eff.BucketName = o.BucketName
	}

	if o.AccessKeyID != "" {
		eff.AccessKeyID = o.AccessKeyID
		eff.SecretAccessKey = o.SecretAccessKey
	}

	return eff
}

// Buckets 返回所有需要确保存在的 bucket（去重）.
func (c *S3Config) Buckets() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 1+len(c.Organizations))

	add := func(b string) {
		if b == "" {
			return
		}

		if _, ok := seen[b]; ok {
			return
		}

		seen[b] = struct{}{}
		out = append(out, b)
	}

	add(c.BucketName)

	for _, o := range c.Organizations {
		add(o.BucketName)
	}

	return out
}

// setDefaults 设置 S3 配置的默认值.
func (c *S3Config) setDefaults(v *viper.Viper) {
	v.SetDefault("s3.endpoint", DefaultS3Endpoint)
	v.SetDefault("s3.access_key_id", DefaultS3AccessKeyID)
	v.SetDefault("s3.secret_access_key", DefaultS3SecretAccessKey)
	v.SetDefault("s3.use_ssl", DefaultS3UseSSL)
	v.SetDefault("s3.bucket_name", DefaultS3BucketName)
	v.SetDefault("s3.region", DefaultS3Region)
}
