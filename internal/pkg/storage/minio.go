// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

// Minio stores objects on a MinIO server and relies on its If-Match
// extension for compare-and-swap.
type Minio struct {
	client   *minio.Client
	bucket   string
	basePath string
}

func NewMinio(c Conf) (*Minio, error) {
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseTLS,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Minio{client: client, bucket: c.Bucket, basePath: c.BasePath}, nil
}

func (m *Minio) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, fullPath(m.basePath, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(key, err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, minioError(key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, minioError(key, err)
	}
	return &Object{Data: data, Version: info.ETag}, nil
}

func (m *Minio) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, m.bucket, fullPath(m.basePath, key),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", minioError(key, err)
	}
	return info.ETag, nil
}

func (m *Minio) PutIfMatch(ctx context.Context, key string, data []byte, expected string) (string, error) {
	opts := minio.PutObjectOptions{}
	if expected == "" {
		opts.SetMatchETagExcept("*")
	} else {
		opts.SetMatchETag(expected)
	}
	info, err := m.client.PutObject(ctx, m.bucket, fullPath(m.basePath, key),
		bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return "", minioError(key, err)
	}
	return info.ETag, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, fullPath(m.basePath, key), minio.RemoveObjectOptions{})
	if err != nil {
		return minioError(key, err)
	}
	return nil
}

func (m *Minio) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, fullPath(m.basePath, key), expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func minioError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return fmt.Errorf("%s: %w", key, errdefs.ErrNotFound)
	case "PreconditionFailed":
		return fmt.Errorf("%s: %w", key, errdefs.ErrVersionStale)
	}
	return fmt.Errorf("minio %s: %w", key, err)
}
