package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	as := assert.New(t)

	a, err := parseAction(`{"action":"get_status","params":{},"self":{"platform":"qq","user_id":"10001"}}`)
	require.NoError(t, err)
	as.Equal("get_status", a.Action)
	as.Equal("10001", a.Self.UserID)

	a, err = parseAction(`send_message {"detail_type":"group","group_id":"1","message":"hi"}`)
	require.NoError(t, err)
	as.Equal("send_message", a.Action)
	id, err := a.Param().String("group_id")
	require.NoError(t, err)
	as.Equal("1", id)

	a, err = parseAction("get_version")
	require.NoError(t, err)
	as.JSONEq("{}", string(a.Params))

	_, err = parseAction("send_message {bad")
	as.Error(err)
	_, err = parseAction(`{"params":{}}`)
	as.Error(err)
}
