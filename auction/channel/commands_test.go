package channel

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCommand struct {
	command string
	data    string
}

type recordingSender struct {
	sent     []sentCommand
	reported []error
	refuse   error
}

func (s *recordingSender) Send(command string, payload any) error {
	if s.refuse != nil {
		s.ReportError(s.refuse)
		return s.refuse
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.sent = append(s.sent, sentCommand{command: command, data: string(raw)})
	return nil
}

func (s *recordingSender) ReportError(err error) {
	s.reported = append(s.reported, err)
}

func TestCommands(t *testing.T) {
	t.Run("PlaceBidOmitsUnknownFields", func(t *testing.T) {
		sender := &recordingSender{}
		cmds := NewCommands(sender)

		require.NoError(t, cmds.PlaceBid("t1", "", 0))
		require.NoError(t, cmds.PlaceBid("t1", "p9", 4201))

		require.Len(t, sender.sent, 2)
		assert.Equal(t, CommandBid, sender.sent[0].command)
		assert.JSONEq(t, `{"teamId":"t1"}`, sender.sent[0].data)
		assert.JSONEq(t, `{"teamId":"t1","playerId":"p9","bidAmount":4201}`, sender.sent[1].data)
	})

	t.Run("PlaceBidRequiresTeam", func(t *testing.T) {
		sender := &recordingSender{}
		err := NewCommands(sender).PlaceBid("", "p1", 10)

		assert.True(t, errors.Is(err, ErrMissingTeam))
		assert.Empty(t, sender.sent)
		require.Len(t, sender.reported, 1)
	})

	t.Run("ConsoleCommands", func(t *testing.T) {
		sender := &recordingSender{}
		cmds := NewCommands(sender)

		require.NoError(t, cmds.StartAuction(""))
		require.NoError(t, cmds.StartAuction("p2"))
		require.NoError(t, cmds.NextPlayer())
		require.NoError(t, cmds.SellPlayer(""))

		require.Len(t, sender.sent, 4)
		assert.Equal(t, CommandStartAuction, sender.sent[0].command)
		assert.JSONEq(t, `{}`, sender.sent[0].data)
		assert.JSONEq(t, `{"playerId":"p2"}`, sender.sent[1].data)
		assert.Equal(t, CommandNextPlayer, sender.sent[2].command)
		assert.Equal(t, CommandSellPlayer, sender.sent[3].command)
		assert.JSONEq(t, `{}`, sender.sent[3].data)
	})

	t.Run("RefusalSurfacesLocally", func(t *testing.T) {
		sender := &recordingSender{refuse: ErrNotConnected}
		err := NewCommands(sender).NextPlayer()

		assert.True(t, errors.Is(err, ErrNotConnected))
		require.Len(t, sender.reported, 1)
		assert.Empty(t, sender.sent)
	})
}

func TestFrameCodec(t *testing.T) {
	raw, err := encodeFrame(CommandNextPlayer, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"nextPlayer","data":{}}`, string(raw))

	env, err := decodeFrame([]byte(`{"event":"auctionEnded"}`))
	require.NoError(t, err)
	assert.Equal(t, "auctionEnded", env.Event)
	assert.JSONEq(t, `{}`, string(env.Data))

	_, err = decodeFrame([]byte(`not json`))
	assert.Error(t, err)
}
