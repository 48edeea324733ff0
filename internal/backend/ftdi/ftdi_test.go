package ftdi

import (
	"io"
	"os"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

// openTestPort returns a pty pair: master is what Device writes to (in
// place of a real serial device handle), slave is where the test reads
// back what was sent, standing in for the SIDBlaster's receive side.
func openTestPort(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave
}

func TestIssue_WritesTwoBytesPerRegister(t *testing.T) {
	master, slave := openTestPort(t)

	d := New(master)
	err := d.Issue([]sidwrite.Write{{Reg: 0x04, Data: 0x21, Cycles: 10}})
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = io.ReadFull(slave, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0x04|writeOpcodeMask), buf[0])
	assert.Equal(t, byte(0x21), buf[1])
}

func TestIssue_FlushesOnRepeatedRegisterWithinThreshold(t *testing.T) {
	master, slave := openTestPort(t)

	d := New(master)
	err := d.Issue([]sidwrite.Write{
		{Reg: 0x00, Data: 0x11, Cycles: 5},
		{Reg: 0x00, Data: 0x12, Cycles: 5}, // same register, well within 20 cycles
	})
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(slave, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), buf[1])
	assert.Equal(t, byte(0x12), buf[3])
}

func TestSilence_ReturnsFixedSevenRegisterSequence(t *testing.T) {
	master, _ := openTestPort(t)

	d := New(master)
	writes := d.Silence()
	assert.Len(t, writes, 7)
	for _, w := range writes {
		assert.Equal(t, uint8(0), w.Data)
	}
}

func TestDisconnect_MarksDeviceNotConnected(t *testing.T) {
	master, _ := openTestPort(t)

	d := New(master)
	require.True(t, d.IsConnected())
	require.NoError(t, d.Disconnect())
	assert.False(t, d.IsConnected())
}

func TestHandleCommand_MuteAllWritesSilenceSequence(t *testing.T) {
	master, slave := openTestPort(t)

	d := New(master)
	require.NoError(t, d.HandleCommand(control.Command{Kind: control.CmdMuteAll}))

	buf := make([]byte, 14)
	_, err := io.ReadFull(slave, buf)
	require.NoError(t, err)
}
