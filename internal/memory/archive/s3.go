// Package archive implements the versioned export/import envelope (C7 open
// question 1) and an S3-backed sink that exported envelopes are written to
// when archiving is enabled.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hindsight/internal/memory/fragment"
)

// EnvelopeVersion is bumped whenever the export wire shape changes in a way
// that is not backward compatible with ImportAll readers.
const EnvelopeVersion = 1

// Envelope is the versioned export payload. ExportAll/ImportAll on
// storage.Backend work with bare fragment slices; the engine façade wraps
// them in this envelope before they leave the process, so a future version
// bump can be detected and rejected instead of silently misread.
type Envelope struct {
	Version      int                 `json:"version"`
	Namespace    string              `json:"namespace"`
	ExportedAtMS int64               `json:"exported_at_ms"`
	Fragments    []fragment.Fragment `json:"fragments"`
}

// Sink is the capability an archive destination must offer. hindsightd
// wires S3Sink when archiving is enabled in config, and the engine Puts
// every export through it; import takes its envelope from the caller and
// does not read from the sink.
type Sink interface {
	Put(ctx context.Context, key string, env Envelope) error
	Get(ctx context.Context, key string) (Envelope, error)
}

// S3Sink stores export envelopes as gzip-free JSON objects in S3 (or an
// S3-compatible endpoint such as MinIO). Grounded on the teacher's
// internal/objectstore S3Store: same AWS SDK v2 client construction,
// path-style and custom-endpoint support for MinIO.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config carries the subset of connection settings an archive sink needs.
type S3Config struct {
	Region       string
	Bucket       string
	Prefix       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Sink builds an S3Sink from config, loading AWS SDK defaults and
// overriding credentials/endpoint when supplied explicitly.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: s3 bucket is required")
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Sink) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Put uploads env as JSON under key.
func (s *S3Sink) Put(ctx context.Context, key string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("archive: marshal envelope: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put: %w", err)
	}
	return nil
}

// Get downloads and decodes the envelope at key, rejecting versions this
// reader does not understand.
func (s *S3Sink) Get(ctx context.Context, key string) (Envelope, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("archive: s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Envelope{}, fmt.Errorf("archive: read body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("archive: decode envelope: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("archive: unsupported envelope version %d (want %d)", env.Version, EnvelopeVersion)
	}
	return env, nil
}

// KeyFor derives a deterministic archive key for a namespace snapshot.
func KeyFor(namespace string, nowMS int64) string {
	return fmt.Sprintf("%s/%d.json", namespace, nowMS)
}

// NewEnvelope wraps fragments for export at the current envelope version.
func NewEnvelope(namespace string, nowMS int64, fragments []fragment.Fragment) Envelope {
	return Envelope{Version: EnvelopeVersion, Namespace: namespace, ExportedAtMS: nowMS, Fragments: fragments}
}
