package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/services"
	"callpipe/internal/store"
)

// metadataChecksum is the user-metadata key carrying the hex MD5 of the
// uploaded payload, used to detect differing re-uploads for the same call.
const metadataChecksum = "content-md5"

// S3Client abstracts the S3 API operations used by [Writer].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Writer stores enhanced call audio in a single bucket under an optional
// key prefix.
type Writer struct {
	client S3Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewClient builds an S3 client from the storage config section. The
// endpoint may point at any S3-compatible service; path-style addressing
// is needed for most self-hosted ones.
func NewClient(cfg *config.Config) *s3.Client {
	storage := cfg.Storage
	awsCfg := aws.Config{
		Region: storage.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     storage.AccessKey,
				SecretAccessKey: storage.SecretKey,
			}, nil
		}),
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(storage.Endpoint)
		}
		o.UsePathStyle = storage.UsePathStyle
	})
}

// NewWriter creates a writer over a pre-configured client. Any type
// satisfying [S3Client] is accepted; typically an [s3.Client].
func NewWriter(client S3Client, cfg *config.Config, logger *slog.Logger) *Writer {
	return &Writer{
		client: client,
		bucket: cfg.Storage.Bucket,
		prefix: cfg.Storage.Prefix,
		logger: logging.NewComponentLogger(logger, "objectstore"),
	}
}

// Bucket returns the configured destination bucket.
func (w *Writer) Bucket() string { return w.bucket }

// Key builds the hierarchical object key for a call. The feed identity and
// event date give prefix-based listing and lifecycle policies something to
// bite on; the call UID makes the key collision-free by construction.
func (w *Writer) Key(feedID string, ts time.Time, callUID string) string {
	ts = ts.UTC()
	key := fmt.Sprintf("playlist_id=%s/%04d/%02d/%02d/call_%s.wav",
		feedID, ts.Year(), ts.Month(), ts.Day(), callUID)
	if w.prefix == "" {
		return key
	}
	return w.prefix + "/" + key
}

// Upload writes a call's enhanced audio and returns the bucket and key it
// landed under. Re-uploading identical bytes for the same call is a no-op;
// differing bytes for the same key is a logic error and is rejected.
func (w *Writer) Upload(ctx context.Context, call *store.CallRecord, payload []byte) (string, string, error) {
	key := w.Key(call.FeedID, time.Unix(call.Ts, 0), call.CallUID)
	sum := md5.Sum(payload)
	checksum := hex.EncodeToString(sum[:])

	head, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		stored := head.Metadata[metadataChecksum]
		if stored == checksum {
			w.logger.Debug("object already stored",
				logging.String(logging.FieldCallUID, call.CallUID),
				logging.String("key", key),
			)
			return w.bucket, key, nil
		}
		return "", "", services.Wrap(services.ErrValidation, "objectstore", "upload",
			fmt.Sprintf("key %s exists with checksum %s, refusing to overwrite with %s", key, stored, checksum), nil)
	case !isNotFound(err):
		return "", "", services.Wrap(services.ErrTransient, "objectstore", "head object", key, err)
	}

	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("audio/wav"),
		ContentMD5:  aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		Metadata: map[string]string{
			metadataChecksum: checksum,
			"talkgroup":      call.GroupID,
			"duration":       strconv.FormatFloat(call.Duration, 'f', 3, 64),
			"codec":          call.Codec,
			"feed":           call.FeedID,
		},
	})
	if err != nil {
		return "", "", services.Wrap(services.ErrTransient, "objectstore", "put object", key, err)
	}

	w.logger.Info("stored call audio",
		logging.String(logging.FieldCallUID, call.CallUID),
		logging.String("key", key),
		logging.Int("bytes", len(payload)),
	)
	return w.bucket, key, nil
}

// Fetch opens a stored object for reading. Missing keys surface as
// ErrNotFound so callers can tell a vanished object from a network fault.
func (w *Writer) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := w.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, services.Wrap(services.ErrNotFound, "objectstore", "get object", key, err)
		}
		return nil, services.Wrap(services.ErrTransient, "objectstore", "get object", key, err)
	}
	return out.Body, nil
}

// isNotFound reports whether err indicates the S3 object does not exist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
