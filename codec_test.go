package realtime

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMessageEnvelope(t *testing.T) {
	frame, err := EncodeMessage(MessageTypeChangesAck, &ChangesAckPayload{
		Count: 3,
	})
	assert.Equal(t, nil, err)

	message, err := DecodeMessage(frame)
	assert.Equal(t, nil, err)
	assert.Equal(t, MessageTypeChangesAck, message.Type)
	assert.NotEqual(t, nil, message.Timestamp)

	// no payload is fine
	frame, err = EncodeMessage(MessageTypePing, nil)
	assert.Equal(t, nil, err)
	message, err = DecodeMessage(frame)
	assert.Equal(t, nil, err)
	assert.Equal(t, MessageTypePing, message.Type)
	assert.Equal(t, 0, len(message.Data))

	// a frame without a type is malformed
	_, err = DecodeMessage([]byte(`{"data":{}}`))
	assert.NotEqual(t, nil, err)
	_, err = DecodeMessage([]byte(`not json`))
	assert.NotEqual(t, nil, err)
}

func TestEntityChangeValidate(t *testing.T) {
	change := &EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionCreate,
		EntityId:   NewId(),
	}
	assert.Equal(t, nil, change.Validate())

	assert.NotEqual(t, nil, (&EntityChange{
		EntityType: "profile",
		Action:     ChangeActionCreate,
		EntityId:   NewId(),
	}).Validate())

	assert.NotEqual(t, nil, (&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     "upsert",
		EntityId:   NewId(),
	}).Validate())

	assert.NotEqual(t, nil, (&EntityChange{
		EntityType: EntityTypeOffer,
		Action:     ChangeActionCreate,
	}).Validate())
}

func TestIdRoundTrip(t *testing.T) {
	id := NewId()

	parsed, err := ParseId(id.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, id, parsed)

	jsonBytes, err := id.MarshalJSON()
	assert.Equal(t, nil, err)
	unmarshaled := Id{}
	assert.Equal(t, nil, unmarshaled.UnmarshalJSON(jsonBytes))
	assert.Equal(t, id, unmarshaled)

	_, err = ParseId("not-an-id")
	assert.NotEqual(t, nil, err)
}
