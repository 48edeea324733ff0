package hvsc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSonglengths = `; This is a comment
[Database]
; /MUSICIANS/H/Hubbard_Rob/Commando.sid
abc123def456abc123def456abc123d=3:45 2:10(R) 1:02.500

; /MUSICIANS/H/Hubbard_Rob/Monty_on_the_Run.sid
feedfacefeedfacefeedfacefeedfac=4:00
`

func TestParseSonglengths_LooksUpByHash(t *testing.T) {
	db, err := ParseSonglengths(strings.NewReader(sampleSonglengths))
	require.NoError(t, err)

	name, ok := db.Filename("abc123def456abc123def456abc123d")
	require.True(t, ok)
	assert.Equal(t, "/MUSICIANS/H/Hubbard_Rob/Commando.sid", name)

	ms, ok := db.SongLength("abc123def456abc123def456abc123d", 0)
	require.True(t, ok)
	assert.Equal(t, (3*60+45)*1000, ms)

	ms, ok = db.SongLength("abc123def456abc123def456abc123d", 1)
	require.True(t, ok)
	assert.Equal(t, (2*60+10)*1000, ms, "trailing (R) indicator must be stripped")

	ms, ok = db.SongLength("abc123def456abc123def456abc123d", 2)
	require.True(t, ok)
	assert.Equal(t, (1*60+2)*1000+500, ms)
}

func TestParseSonglengths_UnknownHash(t *testing.T) {
	db, err := ParseSonglengths(strings.NewReader(sampleSonglengths))
	require.NoError(t, err)

	_, ok := db.SongLength("0000000000000000000000000000000", 0)
	assert.False(t, ok)
}

func TestParseSonglengths_RejectsMissingHeader(t *testing.T) {
	_, err := ParseSonglengths(strings.NewReader("not a songlengths file\n"))
	assert.Error(t, err)
}
