package lobby

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshlobby/internal/session"
)

var _ session.Lobby = (*LocalClient)(nil)
var _ session.Lobby = (*Client)(nil)

func TestLocalClient(t *testing.T) {
	dir := NewDirectory()
	a, b := NewLocalClient(dir), NewLocalClient(dir)
	recA, recB := &recorder{}, &recorder{}
	a.SetListener(recA)
	b.SetListener(recB)
	b.OnSignal(recB.Signal)

	info, err := a.Create(context.Background(), "cave", 6, nil)
	require.NoError(t, err)
	_, err = b.Join(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, []event{{"joined", info.ID, b.Self()}}, recA.seen())

	require.NoError(t, a.SendSignal(Signal{To: b.Self(), Kind: SignalAnswer}))
	require.Len(t, recB.relayed(), 1)
	assert.Equal(t, a.Self(), recB.relayed()[0].From)

	a.Leave(info.ID)
	assert.Equal(t, []event{{"left", info.ID, a.Self()}, {"owner", info.ID, b.Self()}}, recB.seen())

	require.NoError(t, b.Close())
	assert.Zero(t, dir.Lobbies())
	assert.Equal(t, 1, dir.Peers())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Create(ctx, "late", 6, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
