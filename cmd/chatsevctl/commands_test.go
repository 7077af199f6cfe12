package main

import (
	"bytes"
	"testing"

	"github.com/chatsev/realtime/internal/changefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEvent(t *testing.T) {
	ev, err := buildEvent("messages", "insert", `{"id":"m1","recipient_id":"u1"}`, "")
	require.NoError(t, err)
	assert.Equal(t, changefeed.EventInsert, ev.Type)
	assert.Equal(t, "messages", ev.Table)
	assert.Equal(t, "u1", ev.New["recipient_id"])
	assert.Nil(t, ev.Old)
	assert.NotZero(t, ev.CommitTimestamp)
}

func TestBuildEvent_Invalid(t *testing.T) {
	_, err := buildEvent("messages", "TRUNCATE", "", "")
	assert.ErrorIs(t, err, changefeed.ErrUnknownEventType)

	_, err = buildEvent("", "INSERT", `{"id":"m1"}`, "")
	assert.ErrorIs(t, err, changefeed.ErrMissingTable)

	_, err = buildEvent("messages", "UPDATE", `{not json`, "")
	assert.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int64{"chat": 3}))
	assert.JSONEq(t, `{"chat":3}`, buf.String())
}
