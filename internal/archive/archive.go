// Package archive stores accepted form submissions as JSON objects in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/greenleafcpa/greenleaf-web/internal/forms"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// DefaultPrefix is the key prefix used when Options.Prefix is empty.
const DefaultPrefix = "submissions"

// ObjectPutter is the subset of the S3 client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ ObjectPutter = (*s3.Client)(nil)

// Options configures the archive.
type Options struct {
	Logger log.Logger
	Client ObjectPutter

	Bucket string

	// objects land at {Prefix}/{form}/YYYY/MM/DD/{id}.json
	Prefix string

	// KMSKeyID enables SSE-KMS with the given key. Empty uses the bucket default.
	KMSKeyID string
}

// Archive writes each submission to its own object. It implements forms.Sink.
type Archive struct {
	opts   Options
	logger log.Logger
}

var _ forms.Sink = (*Archive)(nil)

func New(opts Options) (*Archive, error) {
	if opts.Client == nil {
		return nil, xerrors.New("archive: Client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("archive: Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Archive{opts: opts, logger: opts.Logger}, nil
}

// Key returns the object key for s.
func (a *Archive) Key(s forms.Submission) string {
	return a.opts.Prefix + "/" + s.Form + "/" + s.ReceivedAt.UTC().Format("2006/01/02") + "/" + s.ID + ".json"
}

// Deliver writes s as an indented JSON object.
func (a *Archive) Deliver(ctx context.Context, s forms.Submission) error {
	if s.ID == "" {
		return xerrors.New("archive: submission has no id")
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "archive: encode submission")
	}

	key := a.Key(s)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(a.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"form": s.Form,
		},
	}
	if a.opts.KMSKeyID != "" {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(a.opts.KMSKeyID)
	}

	if _, err := a.opts.Client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", a.opts.Bucket, key)
	}

	a.logger.Debug(ctx, "submission archived",
		"submission_id", s.ID,
		"form", s.Form,
		"key", key,
		"bytes", len(body),
	)
	return nil
}
