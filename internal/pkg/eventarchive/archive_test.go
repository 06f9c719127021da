package eventarchive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hauntedempire/paycore/internal/pkg/config"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "webhooks/2026/03/evt_123.json", ObjectKey("evt_123", at))
	assert.Equal(t, "webhooks/2026/03/.._.._etc.json", ObjectKey("../../etc", at))
}

func TestStore(t *testing.T) {
	putter := &fakePutter{}
	a := NewWithClient(putter, "payments")
	a.now = func() time.Time { return time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC) }

	key, err := a.Store(context.Background(), "evt_1", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.Equal(t, "webhooks/2026/10/evt_1.json", key)
	assert.Equal(t, "payments", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))
	assert.Equal(t, `{"id":"evt_1"}`, string(putter.body))
}

func TestStore_Error(t *testing.T) {
	a := NewWithClient(&fakePutter{err: errors.New("access denied")}, "payments")
	_, err := a.Store(context.Background(), "evt_1", []byte(`{}`))
	assert.ErrorContains(t, err, "access denied")
}

func TestDisabled(t *testing.T) {
	a, err := New(context.Background(), config.Archive{})
	require.NoError(t, err)
	assert.Nil(t, a)

	key, err := a.Store(context.Background(), "evt_1", []byte(`{}`))
	assert.NoError(t, err)
	assert.Empty(t, key)
}
