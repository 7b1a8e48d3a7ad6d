package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-redis/redis/v8"

	"github.com/Iron-Ham/qscaler/internal/errors"
)

// QueueSource returns the approximate number of visible messages in a queue.
type QueueSource interface {
	QueueDepth(ctx context.Context, queueID string) (int, error)
}

// Supported queue URL schemes.
const (
	SchemeHTTPS  = "https"
	SchemeHTTP   = "http"
	SchemeRedis  = "redis"
	SchemeRediss = "rediss"
)

// DefaultRedisList is the list key used when a redis URL names none.
const DefaultRedisList = "queue"

// QueueOptions configures NewQueueSource.
type QueueOptions struct {
	// Region overrides the AWS region. When empty it is taken from the
	// SQS hostname, then from the usual AWS environment and profile.
	Region string
	// Timeout bounds each depth query. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// NewQueueSource builds the source matching the scheme of queueURL.
func NewQueueSource(ctx context.Context, queueURL string, opts QueueOptions) (QueueSource, error) {
	u, err := url.Parse(queueURL)
	if err != nil {
		return nil, errors.NewValidationError("is not a valid URL").WithField("queue.url").WithValue(queueURL)
	}

	switch strings.ToLower(u.Scheme) {
	case SchemeHTTPS, SchemeHTTP:
		return NewSQSSource(ctx, queueURL, opts)
	case SchemeRedis, SchemeRediss:
		return NewRedisSource(queueURL, opts)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedScheme, u.Scheme)
	}
}

// withTimeout applies d to ctx when positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// -----------------------------------------------------------------------------
// SQS
// -----------------------------------------------------------------------------

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSSource reads ApproximateNumberOfMessages.
type SQSSource struct {
	client  SQSAPI
	timeout time.Duration
}

// NewSQSSource loads the default AWS configuration and creates a source.
func NewSQSSource(ctx context.Context, queueURL string, opts QueueOptions) (*SQSSource, error) {
	region := opts.Region
	if region == "" {
		region = RegionFromQueueURL(queueURL)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewMetricError("sqs", err).WithQueue(queueURL)
	}
	return NewSQSSourceWithClient(sqs.NewFromConfig(cfg), opts.Timeout), nil
}

// NewSQSSourceWithClient creates a source around an existing client.
func NewSQSSourceWithClient(client SQSAPI, timeout time.Duration) *SQSSource {
	return &SQSSource{client: client, timeout: timeout}
}

// QueueDepth implements QueueSource. A missing attribute counts as an empty
// queue; a value that is not a non-negative integer is an error.
func (s *SQSSource) QueueDepth(ctx context.Context, queueURL string) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return 0, errors.NewMetricError("sqs", fmt.Errorf("%w: %w", errors.ErrQueueUnavailable, err)).WithQueue(queueURL)
	}
	if out == nil {
		return 0, nil
	}

	raw, ok := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, errors.NewMetricError("sqs",
			fmt.Errorf("%w: ApproximateNumberOfMessages=%q", errors.ErrMalformedResponse, raw)).WithQueue(queueURL)
	}
	return n, nil
}

// RegionFromQueueURL extracts the region from an SQS endpoint such as
// https://sqs.eu-west-1.amazonaws.com/123/jobs. It returns "" for other
// hosts.
func RegionFromQueueURL(queueURL string) string {
	u, err := url.Parse(queueURL)
	if err != nil {
		return ""
	}
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) < 4 || labels[0] != "sqs" || labels[2] != "amazonaws" {
		return ""
	}
	return labels[1]
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

// RedisAPI is the subset of the Redis client used here.
type RedisAPI interface {
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisSource reads the length of a Redis list.
type RedisSource struct {
	client  RedisAPI
	list    string
	timeout time.Duration
}

// NewRedisSource parses a redis:// or rediss:// URL. The list key comes from
// the "list" query parameter and defaults to DefaultRedisList, e.g.
// redis://:secret@cache:6379/2?list=jobs.
func NewRedisSource(queueURL string, opts QueueOptions) (*RedisSource, error) {
	conn, list, err := ParseRedisQueueURL(queueURL)
	if err != nil {
		return nil, err
	}
	ro, err := redis.ParseURL(conn)
	if err != nil {
		return nil, errors.NewValidationError(err.Error()).WithField("queue.url")
	}
	return NewRedisSourceWithClient(redis.NewClient(ro), list, opts.Timeout), nil
}

// NewRedisSourceWithClient creates a source around an existing client.
func NewRedisSourceWithClient(client RedisAPI, list string, timeout time.Duration) *RedisSource {
	if list == "" {
		list = DefaultRedisList
	}
	return &RedisSource{client: client, list: list, timeout: timeout}
}

// ParseRedisQueueURL splits a queue URL into the connection URL understood
// by redis.ParseURL and the list key.
func ParseRedisQueueURL(queueURL string) (conn, list string, err error) {
	u, err := url.Parse(queueURL)
	if err != nil {
		return "", "", errors.NewValidationError("is not a valid URL").WithField("queue.url").WithValue(queueURL)
	}
	q := u.Query()
	list = q.Get("list")
	if list == "" {
		list = DefaultRedisList
	}
	q.Del("list")
	u.RawQuery = q.Encode()
	return u.String(), list, nil
}

// List returns the list key being measured.
func (r *RedisSource) List() string {
	return r.list
}

// QueueDepth implements QueueSource. queueID is ignored: the list key is
// fixed at construction.
func (r *RedisSource) QueueDepth(ctx context.Context, queueID string) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.LLen(ctx, r.list).Result()
	if err != nil {
		return 0, errors.NewMetricError("redis", fmt.Errorf("%w: %w", errors.ErrQueueUnavailable, err)).WithQueue(r.list)
	}
	return int(n), nil
}
