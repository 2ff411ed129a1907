package polypoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/polypoint/protocol"
)

func TestNewSimulatedAnchor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnchorEUI = 2
	a, d, err := NewSimulatedAnchor(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Initialise())
	assert.Equal(t, uint8(1), d.Channel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	poll := protocol.EncodeBroadcast(&protocol.Broadcast{
		PANID: cfg.PANID,
		Src:   protocol.PopulateEUI(cfg.TagEUI),
		Type:  MsgTypeTagPoll,
		TRR:   make([]protocol.Timestamp, cfg.NumAnchors),
	})
	d.InjectRx(poll, protocol.FromHi32(1_000_000))

	require.Eventually(t, func() bool { return len(d.GetTxLog()) == 1 }, time.Second, time.Millisecond)
	resp, err := protocol.DecodePollResponse(d.GetTxLog()[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), resp.AnchorID)
}

func TestNewSimulatedAnchorInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnchorEUI = 11
	_, _, err := NewSimulatedAnchor(cfg)
	assert.ErrorIs(t, err, ErrInvalidAnchor)
}
