package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToUTF8(t *testing.T) {
	assert.Equal(t, "", ToUTF8(nil))
	assert.Equal(t, "Maputo", ToUTF8([]byte("Maputo  ")))
	// 0xE7 is c-cedilla and 0xE3 a-tilde in WIN1252
	assert.Equal(t, "Distribuição", ToUTF8([]byte{'D', 'i', 's', 't', 'r', 'i', 'b', 'u', 'i', 0xE7, 0xE3, 'o'}))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", NormalizeValue([]byte("abc")))
	assert.Equal(t, int64(4), NormalizeValue(int64(4)))
	assert.Nil(t, NormalizeValue(nil))
}
