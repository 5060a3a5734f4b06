package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureErase(t *testing.T) {
	t.Run("Erases data", func(t *testing.T) {
		data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
		SecureErase(data)
		assert.True(t, bytes.Equal(data, make([]byte, len(data))))
	})

	t.Run("Handles empty slice", func(t *testing.T) {
		SecureErase([]byte{})
		SecureErase(nil)
	})

	t.Run("Erases sub-slice only", func(t *testing.T) {
		data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
		SecureErase(data[1:3])
		assert.Equal(t, []byte{0xAA, 0x00, 0x00, 0xDD}, data)
	})
}

func TestSecretKey(t *testing.T) {
	t.Run("NewSecretKeyWithCopy owns its bytes", func(t *testing.T) {
		data := []byte{0x01, 0x02, 0x03, 0x04}
		sk := NewSecretKeyWithCopy(data)
		require.NotNil(t, sk)

		data[0] = 0xFF
		assert.Equal(t, byte(0x01), sk.Data()[0])
	})

	t.Run("Close erases data", func(t *testing.T) {
		data := []byte{0x01, 0x02, 0x03, 0x04}
		sk := NewSecretKey(data)

		sk.Close()

		assert.True(t, sk.IsClosed())
		assert.Nil(t, sk.Data())
		assert.Equal(t, 0, sk.Len())
		assert.True(t, bytes.Equal(data, make([]byte, len(data))))
	})

	t.Run("Close is idempotent", func(t *testing.T) {
		sk := NewSecretKey([]byte{0x01, 0x02})
		sk.Close()
		sk.Close()
		assert.True(t, sk.IsClosed())
	})

	t.Run("Nil SecretKey", func(t *testing.T) {
		var sk *SecretKey
		assert.Nil(t, sk.Data())
		assert.Equal(t, 0, sk.Len())
		assert.True(t, sk.IsClosed())
		sk.Close()
	})
}
