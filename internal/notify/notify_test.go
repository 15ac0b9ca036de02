package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

type fakePublisher struct {
	channel string
	message any
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.message = message
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func sample() Notification {
	return Notification{
		Action:         "activated",
		SubscriptionID: "1001",
		OwnerID:        "usr_1",
		Provider:       "stripe",
		EventRef:       "evt_1",
		Status:         "ACTIVE",
		OccurredAt:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLogNotifierWritesStructuredLine(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	require.NoError(t, NewLogNotifier(zap.New(core)).Notify(context.Background(), sample()))

	entries := logs.FilterMessage("subscription changed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "activated", entries[0].ContextMap()["action"])
	_, hasOwner := entries[0].ContextMap()["owner_id"]
	assert.False(t, hasOwner)
}

func TestRedisNotifierPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := &RedisNotifier{client: pub, channel: "changes"}

	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.Equal(t, "changes", pub.channel)

	raw, ok := pub.message.([]byte)
	require.True(t, ok)
	var decoded Notification
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, sample(), decoded)
}

func TestNewRedisNotifierDefaultsChannel(t *testing.T) {
	n := NewRedisNotifier(nil, " ")
	assert.Equal(t, defaultChannel, n.channel)
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("boom")}

	err := Multi{failing, ok}.Notify(context.Background(), sample())
	assert.Error(t, err)
	assert.Len(t, ok.got, 1, "a failing notifier must not stop the fan-out")
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	failing := &recordingNotifier{err: errors.New("boom")}
	d := NewDispatcher(failing, zap.New(core), obsmetrics.NewNoop())

	assert.NoError(t, d.Notify(context.Background(), sample()))
	assert.Equal(t, 1, logs.FilterMessage("notification delivery failed").Len())
}
