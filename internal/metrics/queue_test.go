package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-redis/redis/v8"

	"github.com/Iron-Ham/qscaler/internal/errors"
)

type fakeSQS struct {
	attrs    map[string]string
	err      error
	input    *sqs.GetQueueAttributesInput
	deadline bool
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.input = in
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.GetQueueAttributesOutput{Attributes: f.attrs}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/jobs"

func TestSQSSource_QueueDepth(t *testing.T) {
	tests := []struct {
		name      string
		attrs     map[string]string
		err       error
		want      int
		wantErrIs error
	}{
		{"numeric", map[string]string{"ApproximateNumberOfMessages": "250"}, nil, 250, nil},
		{"zero", map[string]string{"ApproximateNumberOfMessages": "0"}, nil, 0, nil},
		{"attribute absent", map[string]string{}, nil, 0, nil},
		{"non numeric", map[string]string{"ApproximateNumberOfMessages": "many"}, nil, 0, errors.ErrMalformedResponse},
		{"negative", map[string]string{"ApproximateNumberOfMessages": "-3"}, nil, 0, errors.ErrMalformedResponse},
		{"service error", nil, fmt.Errorf("AccessDenied"), 0, errors.ErrQueueUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSQS{attrs: tt.attrs, err: tt.err}
			src := NewSQSSourceWithClient(fake, 0)

			got, err := src.QueueDepth(context.Background(), testQueueURL)
			if aws.ToString(fake.input.QueueUrl) != testQueueURL {
				t.Errorf("QueueUrl = %q", aws.ToString(fake.input.QueueUrl))
			}
			if len(fake.input.AttributeNames) != 1 || fake.input.AttributeNames[0] != "ApproximateNumberOfMessages" {
				t.Errorf("AttributeNames = %v", fake.input.AttributeNames)
			}
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("QueueDepth() error = %v, want %v", err, tt.wantErrIs)
				}
				var metricErr *errors.MetricError
				if !errors.As(err, &metricErr) || metricErr.Queue != testQueueURL {
					t.Errorf("QueueDepth() error = %v, want *MetricError for the queue", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("QueueDepth() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("QueueDepth() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSQSSource_Timeout(t *testing.T) {
	fake := &fakeSQS{attrs: map[string]string{}}
	if _, err := NewSQSSourceWithClient(fake, time.Second).QueueDepth(context.Background(), testQueueURL); err != nil {
		t.Fatal(err)
	}
	if !fake.deadline {
		t.Error("expected a deadline on the request context")
	}
}

func TestRegionFromQueueURL(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{testQueueURL, "us-east-1"},
		{"https://sqs.eu-west-2.amazonaws.com/1/q", "eu-west-2"},
		{"https://sqs.cn-north-1.amazonaws.com.cn/1/q", "cn-north-1"},
		{"http://localhost:4566/000000000000/q", ""},
		{"https://queue.amazonaws.com/1/q", ""},
		{"::", ""},
	}
	for _, tt := range tests {
		if got := RegionFromQueueURL(tt.url); got != tt.want {
			t.Errorf("RegionFromQueueURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

type fakeRedis struct {
	n    int64
	err  error
	keys []string
}

func (f *fakeRedis) LLen(_ context.Context, key string) *redis.IntCmd {
	f.keys = append(f.keys, key)
	return redis.NewIntResult(f.n, f.err)
}

func TestRedisSource_QueueDepth(t *testing.T) {
	t.Run("list length", func(t *testing.T) {
		fake := &fakeRedis{n: 5000}
		src := NewRedisSourceWithClient(fake, "jobs", 0)

		got, err := src.QueueDepth(context.Background(), "redis://cache/0?list=jobs")
		if err != nil || got != 5000 {
			t.Fatalf("QueueDepth() = %d, %v, want 5000", got, err)
		}
		if len(fake.keys) != 1 || fake.keys[0] != "jobs" {
			t.Errorf("LLEN keys = %v, want [jobs]", fake.keys)
		}
	})

	t.Run("default list", func(t *testing.T) {
		if got := NewRedisSourceWithClient(&fakeRedis{}, "", 0).List(); got != DefaultRedisList {
			t.Errorf("List() = %q, want %q", got, DefaultRedisList)
		}
	})

	t.Run("error", func(t *testing.T) {
		src := NewRedisSourceWithClient(&fakeRedis{err: fmt.Errorf("dial tcp: refused")}, "jobs", 0)
		_, err := src.QueueDepth(context.Background(), "")
		if !errors.Is(err, errors.ErrQueueUnavailable) {
			t.Errorf("QueueDepth() error = %v, want ErrQueueUnavailable", err)
		}
	})
}

func TestParseRedisQueueURL(t *testing.T) {
	tests := []struct {
		in       string
		wantConn string
		wantList string
	}{
		{"redis://cache:6379/2?list=jobs", "redis://cache:6379/2", "jobs"},
		{"redis://cache:6379", "redis://cache:6379", DefaultRedisList},
		{"rediss://:pw@cache:6380/0?list=work&dial_timeout=3s", "rediss://:pw@cache:6380/0?dial_timeout=3s", "work"},
	}
	for _, tt := range tests {
		conn, list, err := ParseRedisQueueURL(tt.in)
		if err != nil {
			t.Fatalf("ParseRedisQueueURL(%q) error = %v", tt.in, err)
		}
		if conn != tt.wantConn || list != tt.wantList {
			t.Errorf("ParseRedisQueueURL(%q) = %q, %q, want %q, %q", tt.in, conn, list, tt.wantConn, tt.wantList)
		}
	}
}

func TestNewQueueSource(t *testing.T) {
	ctx := context.Background()

	t.Run("redis scheme", func(t *testing.T) {
		src, err := NewQueueSource(ctx, "redis://localhost:6379/0?list=jobs", QueueOptions{})
		if err != nil {
			t.Fatalf("NewQueueSource() = %v", err)
		}
		rs, ok := src.(*RedisSource)
		if !ok {
			t.Fatalf("NewQueueSource() = %T, want *RedisSource", src)
		}
		if rs.List() != "jobs" {
			t.Errorf("List() = %q", rs.List())
		}
	})

	t.Run("https scheme", func(t *testing.T) {
		src, err := NewQueueSource(ctx, testQueueURL, QueueOptions{Region: "us-east-1", Timeout: time.Second})
		if err != nil {
			t.Fatalf("NewQueueSource() = %v", err)
		}
		if _, ok := src.(*SQSSource); !ok {
			t.Fatalf("NewQueueSource() = %T, want *SQSSource", src)
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := NewQueueSource(ctx, "amqp://broker/jobs", QueueOptions{})
		if !errors.Is(err, errors.ErrUnsupportedScheme) {
			t.Errorf("NewQueueSource() = %v, want ErrUnsupportedScheme", err)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewQueueSource(ctx, "://nope", QueueOptions{})
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("NewQueueSource() = %v, want invalid input", err)
		}
	})
}
