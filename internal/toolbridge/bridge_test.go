package toolbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestResolveDeliversResult(t *testing.T) {
	b := New(Config{})
	p, err := b.Begin("c1")
	require.NoError(t, err)
	require.Equal(t, 1, b.Pending())

	go func() { require.True(t, b.Resolve("c1", json.RawMessage(`{"ok":true}`))) }()
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(res))
	require.Equal(t, 0, b.Pending())
}

func TestRejectDeliversError(t *testing.T) {
	b := New(Config{})
	p, err := b.Begin("c1")
	require.NoError(t, err)
	require.True(t, b.Reject("c1", &RemoteError{Msg: "no network"}))
	_, err = p.Wait(context.Background())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "no network", re.Msg)
}

func TestDuplicateIDRejected(t *testing.T) {
	b := New(Config{})
	_, err := b.Begin("c1")
	require.NoError(t, err)
	_, err = b.Begin("c1")
	require.ErrorIs(t, err, ErrDuplicateCall)
	b.Close()
}

func TestTimeoutRejectsOnceAndIgnoresLateResult(t *testing.T) {
	b := New(Config{Timeout: 20 * time.Millisecond})
	p, err := b.Begin("c1")
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	require.False(t, b.Resolve("c1", json.RawMessage(`1`)), "late result must be ignored")
	require.False(t, b.Reject("c1", errors.New("late")))
	res, err := p.Wait(context.Background())
	require.ErrorIs(t, err, ErrTimeout, "settled value must not change")
	require.Nil(t, res)
}

func TestSecondResolutionIsNoop(t *testing.T) {
	b := New(Config{})
	p, _ := b.Begin("c1")
	require.True(t, b.Resolve("c1", json.RawMessage(`"first"`)))
	require.False(t, b.Resolve("c1", json.RawMessage(`"second"`)))
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, `"first"`, string(res))
}

func TestWaitCanceledRejectsCall(t *testing.T) {
	b := New(Config{})
	p, _ := b.Begin("c1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, b.Pending())
}

func TestUnknownIDIgnored(t *testing.T) {
	b := New(Config{})
	require.False(t, b.Resolve("nope", nil))
	_, err := b.Begin("")
	require.Error(t, err)
}

func TestCloseRejectsPending(t *testing.T) {
	b := New(Config{})
	p1, _ := b.Begin("a")
	p2, _ := b.Begin("b")
	b.Close()
	_, err := p1.Wait(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = p2.Wait(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
