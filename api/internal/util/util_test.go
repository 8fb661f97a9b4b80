package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSniffMimeHTTP(t *testing.T) {
	require.Equal(t, "image/jpeg", SniffMimeHTTP([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	require.Equal(t, "image/png", SniffMimeHTTP([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}))
	require.Equal(t, "image/webp", SniffMimeHTTP([]byte("RIFF0000WEBPVP8 ")))
	require.Equal(t, "application/octet-stream", SniffMimeHTTP([]byte("hello")))
}

func TestDecodeBase64MaybeDataURL(t *testing.T) {
	b, mime, err := DecodeBase64MaybeDataURL("aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
	require.Empty(t, mime)

	b, mime, err = DecodeBase64MaybeDataURL("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
	require.Equal(t, "image/png", mime)

	_, _, err = DecodeBase64MaybeDataURL("%%%not base64%%%")
	require.Error(t, err)
}

func TestPickMIME(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}
	require.Equal(t, "image/webp", PickMIME("image/webp", "image/png", jpeg))
	require.Equal(t, "image/png", PickMIME("", "image/png", jpeg))
	require.Equal(t, "image/jpeg", PickMIME("", "", jpeg))
	require.Equal(t, "image/jpeg", PickMIME("", "", nil))
}

func TestStripCodeFences(t *testing.T) {
	require.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, StripCodeFences(`{"a":1}`))
}

func TestShortHash(t *testing.T) {
	h := ShortHash([]byte("x"))
	require.Len(t, h, 16)
	require.Equal(t, SHA256Hex([]byte("x"))[:16], h)
	require.NotEqual(t, ShortHash([]byte("y")), h)
}
