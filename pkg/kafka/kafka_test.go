package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON_DocumentEvent(t *testing.T) {
	ev, err := DecodeJSON[DocumentEvent]([]byte(`{"source":"mail-17","text":"hello there world"}`))
	require.NoError(t, err)
	assert.Equal(t, DocumentEvent{Source: "mail-17", Text: "hello there world"}, ev)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	_, err := DecodeJSON[DocumentEvent]([]byte(`{"text":`))
	assert.Error(t, err)
}

func TestEncode_SimilarityEvent(t *testing.T) {
	msg, err := encode(Event{Key: "4", Value: SimilarityEvent{DocumentID: 4, MasterID: 3, Distance: 0.25}})
	require.NoError(t, err)
	assert.Equal(t, []byte("4"), msg.Key)
	assert.JSONEq(t, `{"doc_id":4,"master_id":3,"distance":0.25,"duplicate":false}`, string(msg.Value))
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := encode(Event{Key: "x", Value: make(chan int)})
	assert.Error(t, err)
}

func TestPing_NoBrokers(t *testing.T) {
	assert.Error(t, Ping(context.Background(), nil))
}
