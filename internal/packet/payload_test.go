package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	buf, err := Encode(100_000_000, 3, 20)
	require.NoError(t, err)
	require.Len(t, buf, 20)

	// 100_000_000 = 0x05F5E100
	assert.Equal(t, []byte{0x00, 0xE1, 0xF5, 0x05, 0, 0, 0, 0}, buf[0:8])
	assert.Equal(t, []byte{3, 0, 0, 0}, buf[8:12])
	assert.Equal(t, make([]byte, 8), buf[12:])
}

func TestDecodeIgnoresPadding(t *testing.T) {
	buf, err := Encode(42, 7, 64)
	require.NoError(t, err)
	buf[63] = 0xff

	hdr, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Payload{SendNs: 42, Sender: 7}, hdr)
}

func TestShortPayload(t *testing.T) {
	_, err := Encode(1, 0, 11)
	assert.ErrorIs(t, err, ErrShortPayload)

	_, err = Decode(make([]byte, 8))
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestNegativeSenderSurvives(t *testing.T) {
	buf, err := Encode(0, -2, HeaderLen)
	require.NoError(t, err)
	hdr, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), hdr.Sender)
}
