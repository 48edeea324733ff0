package usb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

type fakeTransfer struct {
	bytes.Buffer
	closed bool
}

func (f *fakeTransfer) Close() error { f.closed = true; return nil }

func TestIssue_SingleWriteHeaderAndPayload(t *testing.T) {
	xfer := &fakeTransfer{}
	d := New(xfer, 1)

	err := d.Issue([]sidwrite.Write{{Reg: 0x04, Data: 0x21, Cycles: 100}})
	require.NoError(t, err)

	got := xfer.Bytes()
	require.Len(t, got, 5)
	assert.Equal(t, byte(0x00), got[0]) // opcode 0, len-1 = 0
	assert.Equal(t, byte(0x04), got[1])
	assert.Equal(t, byte(0x21), got[2])
	// cycles-1 = 99 = 0x0063
	assert.Equal(t, byte(0x00), got[3])
	assert.Equal(t, byte(0x63), got[4])
}

func TestIssue_SplitsBatchesLargerThanMax(t *testing.T) {
	xfer := &fakeTransfer{}
	d := New(xfer, 1)

	batch := make([]sidwrite.Write, MaxBatch+3)
	for i := range batch {
		batch[i] = sidwrite.Write{Reg: uint8(i), Cycles: 10}
	}
	require.NoError(t, d.Issue(batch))

	// two frames: one header+15*4, one header+3*4
	expectedLen := (1 + MaxBatch*4) + (1 + 3*4)
	assert.Equal(t, expectedLen, xfer.Len())
}

func TestHandleCommand_Mute(t *testing.T) {
	xfer := &fakeTransfer{}
	d := New(xfer, 1)
	require.NoError(t, d.sendCommand(cmdMuteAll, 0))
	assert.Equal(t, []byte{byte(opcodeCommand << 6), cmdMuteAll, 0, 0, 0}, xfer.Bytes())
}

func TestClose_ClosesTransfer(t *testing.T) {
	xfer := &fakeTransfer{}
	d := New(xfer, 1)
	require.NoError(t, d.Close())
	assert.True(t, xfer.closed)
}

func TestDisconnect_MarksDeviceNotConnected(t *testing.T) {
	xfer := &fakeTransfer{}
	d := New(xfer, 1)
	require.True(t, d.IsConnected())

	require.NoError(t, d.Disconnect())
	assert.False(t, d.IsConnected())
	assert.True(t, xfer.closed)
}

func TestTestConnection_SendsClearBufferProbe(t *testing.T) {
	xfer := &fakeTransfer{}
	d := New(xfer, 1)

	require.NoError(t, d.TestConnection())
	assert.Equal(t, []byte{byte(opcodeCommand << 6), cmdClearBuffer, 0, 0, 0}, xfer.Bytes())
	assert.True(t, d.IsConnected())
}
