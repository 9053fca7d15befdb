package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aristath/crew/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisGateway_Keys(t *testing.T) {
	mr := miniredis.RunT(t)
	g := testRedis(t, mr)
	ctx := context.Background()

	w := sampleWorkflow(t, "wf-1", t0)
	require.NoError(t, g.Save(ctx, w))

	assert.True(t, mr.Exists("test:workflow:wf-1"))
	members, err := mr.ZMembers("test:workflows")
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-1"}, members)

	loc, err := g.WriteResults(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "redis key test:results:wf-1", loc)
	results, err := mr.Get("test:results:wf-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Gather": "sources: a, b"}`, results)

	require.NoError(t, g.Ping(ctx))
}

func TestRedisGateway_LoadAllSkipsDanglingIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	g := testRedis(t, mr)
	ctx := context.Background()

	require.NoError(t, g.Save(ctx, sampleWorkflow(t, "kept", t0)))
	require.NoError(t, g.Save(ctx, sampleWorkflow(t, "gone", t0.Add(time.Hour))))
	require.NoError(t, g.Save(ctx, sampleWorkflow(t, "garbled", t0.Add(2*time.Hour))))
	mr.Del("test:workflow:gone")
	require.NoError(t, mr.Set("test:workflow:garbled", "{"))

	all, err := g.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].ID)
}

func TestRedisGateway_ConnectGivesUp(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := NewRedisGateway(context.Background(), config.RedisConfig{
		Addr:           addr,
		ConnectTimeout: config.Duration(300 * time.Millisecond),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRedisGateway_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	g, err := NewRedisGateway(context.Background(), config.RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, g.Save(context.Background(), sampleWorkflow(t, "wf", t0)))
	assert.True(t, mr.Exists("crew:workflow:wf"))
}
