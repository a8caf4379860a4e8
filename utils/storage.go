// modgate/utils/storage.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// storageTimeout bounds a single object store round trip.
const storageTimeout = 30 * time.Second

// LocalStorage implements StorageService for local disk. Files are served
// under /uploads/.
type LocalStorage struct {
	UploadDir string
}

// NewLocalStorage creates the upload directory if needed.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create upload directory %s: %w", dir, err)
	}
	return &LocalStorage{UploadDir: dir}, nil
}

func (ls *LocalStorage) SaveFile(filename string, data []byte, contentType string) (string, error) {
	name, err := cleanName(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(ls.UploadDir, name), data, 0644); err != nil {
		return "", err
	}
	return "/uploads/" + name, nil
}

func (ls *LocalStorage) DeleteFile(path string) error {
	// Path is like "/uploads/filename.ext"
	err := os.Remove(filepath.Join(ls.UploadDir, filepath.Base(path)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// S3Storage implements StorageService for S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
	PublicURL  string
}

func NewS3Storage(endpoint, accessKey, secretKey, bucket, region, publicURL string, useSSL bool) (*S3Storage, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// Use IAM role credentials if keys are not provided
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	if publicURL == "" {
		protocol := "http"
		if useSSL {
			protocol = "https"
		}
		publicURL = fmt.Sprintf("%s://%s.%s", protocol, bucket, endpoint)
	}

	return &S3Storage{
		Client:     minioClient,
		BucketName: bucket,
		PublicURL:  strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (s3 *S3Storage) SaveFile(filename string, data []byte, contentType string) (string, error) {
	name, err := cleanName(filename)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	_, err = s3.Client.PutObject(ctx, s3.BucketName, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return fmt.Sprintf("%s/%s", s3.PublicURL, name), nil
}

func (s3 *S3Storage) DeleteFile(path string) error {
	// Path is the public URL; the key is its last segment.
	key := path[strings.LastIndex(path, "/")+1:]
	if key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	return s3.Client.RemoveObject(ctx, s3.BucketName, key, minio.RemoveObjectOptions{})
}

// cleanName rejects names that would escape the storage root.
func cleanName(filename string) (string, error) {
	name := filepath.Base(filename)
	if name != filename || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	return name, nil
}
