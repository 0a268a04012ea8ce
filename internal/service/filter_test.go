package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-live-service/internal/domain/event"
)

type chatMessage struct {
	ChatID string `json:"chat_id"`
	Size   int    `json:"size"`
}

func TestFilterExpressions(t *testing.T) {
	fc, err := NewFilterCompiler(8)
	require.NoError(t, err)

	ev := event.New("message.created", chatMessage{ChatID: "c1", Size: 12}, event.WithScope("org-1"))
	raw := event.New("message.created", json.RawMessage(`{"chat_id":"c2"}`))

	cases := []struct {
		expr string
		ev   event.Event
		want bool
	}{
		{`name == "message.created"`, ev, true},
		{`scope == "org-1" && payload.chat_id == "c1"`, ev, true},
		{`payload.size > 100`, ev, false},
		{`payload.chat_id == "c2"`, raw, true},
		{`payload.missing == "x"`, ev, false},
		{`id != "" && occurred_at > 0`, ev, true},
	}
	for _, tc := range cases {
		pred, err := fc.Compile(tc.expr)
		require.NoError(t, err, tc.expr)
		ok, err := pred(context.Background(), tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, tc.expr)
	}
}

func TestFilterCompileErrors(t *testing.T) {
	fc, err := NewFilterCompiler(8)
	require.NoError(t, err)

	pred, err := fc.Compile("   ")
	require.NoError(t, err)
	assert.Nil(t, pred)

	_, err = fc.Compile(`name + "x"`)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = fc.Compile(`unknown_var == 1`)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFilterProgramsAreCached(t *testing.T) {
	fc, err := NewFilterCompiler(8)
	require.NoError(t, err)

	_, err = fc.Compile(`name == "a"`)
	require.NoError(t, err)
	_, err = fc.Compile(`name == "a"`)
	require.NoError(t, err)
	assert.Equal(t, 1, fc.programs.Len())
}
