package sanction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// LocalStore writes letters under a directory: <id>.json holds the
// document and <id>.txt the rendered body.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Put(_ context.Context, doc Document) (string, error) {
	if err := validID(doc.ID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("sanction: create dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("sanction: marshal document: %w", err)
	}
	jsonPath := filepath.Join(s.dir, doc.ID+".json")
	if err := writeFileAtomic(jsonPath, data); err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(s.dir, doc.ID+".txt"), []byte(doc.Body)); err != nil {
		return "", err
	}
	return "file://" + jsonPath, nil
}

func (s *LocalStore) Get(_ context.Context, id string) (Document, error) {
	if err := validID(id); err != nil {
		return Document{}, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("sanction: read document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("sanction: decode document: %w", err)
	}
	return doc, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("sanction: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sanction: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("sanction: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("sanction: rename document: %w", err)
	}
	return nil
}

// validID rejects ids that could escape the storage directory or prefix.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("sanction: invalid letter id %q", id)
	}
	return nil
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps letters in a bucket under sanction-letters/v1/.
type S3Store struct {
	bucket string
	client S3API
	logger *logging.Logger
}

func NewS3Store(client S3API, bucket string, logger *logging.Logger) *S3Store {
	if client == nil {
		panic("sanction: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("sanction: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Store{bucket: bucket, client: client, logger: logger}
}

func s3Key(id string) string {
	return "sanction-letters/v1/" + id + ".json"
}

func (s *S3Store) Put(ctx context.Context, doc Document) (string, error) {
	if err := validID(doc.ID); err != nil {
		return "", err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("sanction: marshal document: %w", err)
	}
	key := s3Key(doc.ID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"session-id":  doc.SessionID,
			"customer-id": doc.CustomerID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("sanction: s3 put %s: %w", key, err)
	}
	s.logger.Info("stored sanction letter in S3", "sanction_letter_id", doc.ID, "s3_key", key)
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Get(ctx context.Context, id string) (Document, error) {
	if err := validID(id); err != nil {
		return Document{}, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key(id)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("sanction: s3 get %s: %w", id, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Document{}, fmt.Errorf("sanction: read s3 object: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("sanction: decode document: %w", err)
	}
	return doc, nil
}
