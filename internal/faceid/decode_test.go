package faceid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeImage(t *testing.T) {
	format, err := DecodeImage(pngImage(t, 40))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	_, err = DecodeImage(nil)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodeImage([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)

	img := pngImage(t, 40)
	_, err = DecodeImage(img[:len(img)/2])
	assert.ErrorIs(t, err, ErrDecode)
}
