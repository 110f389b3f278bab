package jsoncodec

import (
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ connect.Codec = Codec{}

func TestCodec(t *testing.T) {
	type message struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text,omitempty"`
	}

	data, err := Codec{}.Marshal(&message{ChatID: -5, Text: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"chat_id":-5,"text":"hi"}`, string(data))

	var got message
	require.NoError(t, Codec{}.Unmarshal([]byte(`{"chat_id":7}`), &got))
	assert.Equal(t, message{ChatID: 7}, got)
	assert.Equal(t, "json", Codec{}.Name())
}
