package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/model"
)

type fakeClient struct {
	err error
}

func (c *fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return &model.Response{}, c.err
}

func (c *fakeClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, c.err
}

func TestNewAdaptiveRateLimiter_ClampsDefaults(t *testing.T) {
	l := NewAdaptiveRateLimiter(0, 0)
	require.Equal(t, 60000.0, l.CurrentTPM())
}

func TestMiddleware_SuccessProbesBudgetUpward(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 2000)
	client := l.Middleware()(&fakeClient{})

	before := l.CurrentTPM()
	_, err := client.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
	require.Greater(t, l.CurrentTPM(), before)
}

func TestMiddleware_RateLimitedResponseHalvesBudget(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 2000)
	client := l.Middleware()(&fakeClient{err: model.ErrRateLimited})

	_, err := client.Complete(context.Background(), &model.Request{})
	require.ErrorIs(t, err, model.ErrRateLimited)
	require.InDelta(t, 500.0, l.CurrentTPM(), 1e-9)
}

func TestMiddleware_BackoffNeverGoesBelowFloor(t *testing.T) {
	l := NewAdaptiveRateLimiter(100, 200)
	client := l.Middleware()(&fakeClient{err: model.ErrRateLimited})

	for i := 0; i < 10; i++ {
		_, _ = client.Complete(context.Background(), &model.Request{})
	}
	require.GreaterOrEqual(t, l.CurrentTPM(), 10.0)
}

func TestMiddleware_NonRateLimitErrorDoesNotBackoff(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 2000)
	client := l.Middleware()(&fakeClient{err: errors.New("boom")})

	before := l.CurrentTPM()
	_, err := client.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
	require.Equal(t, before, l.CurrentTPM())
}

func TestMiddleware_NilNextReturnsNil(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 2000)
	require.Nil(t, l.Middleware()(nil))
}
