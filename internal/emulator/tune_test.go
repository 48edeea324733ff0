package emulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuneEmulator_ParsesHeaderAndEvents(t *testing.T) {
	script := []byte(`
title Commando
author Rob Hubbard
songs 3

delay 500
write 0x00 0x11
write 0x01 0x22 cycles=20
read
nextpart
initdone
`)

	e := NewTuneEmulator()
	info, err := e.LoadFile(script)
	require.NoError(t, err)
	assert.Equal(t, "Commando", info.Title)
	assert.Equal(t, "Rob Hubbard", info.Author)
	assert.Equal(t, 3, info.Songs)

	assert.Equal(t, CmdDelay, e.Run())
	assert.Equal(t, uint32(500), e.GetCycles())

	assert.Equal(t, CmdWrite, e.Run())
	assert.Equal(t, uint8(0x00), e.GetRegister())
	assert.Equal(t, uint8(0x11), e.GetData())
	assert.Equal(t, uint32(0), e.GetCycles())

	assert.Equal(t, CmdWrite, e.Run())
	assert.Equal(t, uint8(0x01), e.GetRegister())
	assert.Equal(t, uint8(0x22), e.GetData())
	assert.Equal(t, uint32(20), e.GetCycles())

	assert.Equal(t, CmdRead, e.Run())
	assert.Equal(t, CmdNextPart, e.Run())
	assert.Equal(t, CmdInitDone, e.Run())

	// past the end, idles forever
	assert.Equal(t, CmdIdle, e.Run())
	assert.Equal(t, CmdIdle, e.Run())
}

func TestTuneEmulator_RejectsUnknownDirective(t *testing.T) {
	e := NewTuneEmulator()
	_, err := e.LoadFile([]byte("frobnicate 1\n"))
	assert.Error(t, err)
}

func TestTuneEmulator_SetSongToPlayValidatesRange(t *testing.T) {
	e := NewTuneEmulator()
	assert.Error(t, e.SetSongToPlay(0))
	assert.NoError(t, e.SetSongToPlay(2))
}
