package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Token: "  "}, logx.Nop())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestUpdateMenuCommandsHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.UpdateMenuCommands(ctx, []kit.BotCommand{{Command: "start", Description: "show how to subscribe"}})
	assert.ErrorIs(t, err, context.Canceled)
}
