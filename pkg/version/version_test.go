package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for in, want := range map[string]ProtocolVersion{
		"1.0":   {1, 0},
		"1.1":   {1, 1},
		"10.23": {10, 23},
	} {
		v, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, v)
		assert.Equal(t, in, v.String())
	}

	// "1.0.0" fails because the minor part "0.0" is not a number.
	for _, bad := range []string{"", "1", "abc", "1.0.0", "1.x", "-1.0", "70000.0", ".1"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompatibleWith(t *testing.T) {
	assert.True(t, CompatibleWith(Current))
	assert.True(t, CompatibleWith("1.7"))
	assert.False(t, CompatibleWith("2.0"))
	assert.False(t, CompatibleWith(""))
	assert.False(t, CompatibleWith("one"))
}

func TestString(t *testing.T) {
	s := String("entity-server")
	assert.Regexp(t, `^entity-server \S+ \(protocol `+Current+`, go`, s)
}
