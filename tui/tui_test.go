package tui

import (
	"testing"
	"time"

	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/stretchr/testify/assert"
)

func TestAppended(t *testing.T) {
	assert.Equal(t, "b\n", appended("a\n", "a\nb\n"))
	assert.Equal(t, "", appended("a\n", "a\n"))
	assert.Equal(t, "c\n", appended("a\nb\n", "c\n"), "text reset by the session")
	assert.Equal(t, "", appended("a\n", ""))
}

func TestLinkTable(t *testing.T) {
	data := &LinkTableData{}
	data.Update(LinkStats{
		Listening: true,
		Decoder:   modem.Stats{State: modem.Demodulating, Locks: 4, FalseLocks: 1, Frames: 3},
		Backlog:   120 * time.Millisecond,
		Config:    frame.DefaultConfig(),
	})

	assert.Equal(t, len(linkRows), data.GetRowCount())
	assert.Equal(t, "Listening:", data.GetCell(0, 0).Text)
	assert.Equal(t, "true", data.GetCell(0, 1).Text)
	assert.Equal(t, "false", data.GetCell(1, 1).Text)
	assert.Equal(t, "demodulating", data.GetCell(2, 1).Text)
	assert.Equal(t, "4 (1)", data.GetCell(3, 1).Text)
	assert.Equal(t, "3", data.GetCell(4, 1).Text)
	assert.Equal(t, "120 ms", data.GetCell(6, 1).Text)
	assert.Equal(t, "reedsolomon", data.GetCell(9, 1).Text)
	assert.Equal(t, "ERROR", data.GetCell(99, 1).Text)
}

func TestKeyTable(t *testing.T) {
	data := NewKeyTableData(modem.DefaultParams())
	var ks modem.KeyStrengths
	ks.Bits[3] = 0.25
	ks.Carrier = 0.5
	data.Update(ks)

	assert.Equal(t, modem.BitsPerByte+2, data.GetRowCount())
	assert.Equal(t, "[lightskyblue]bit 3", data.GetCell(4, 0).Text)
	assert.Equal(t, "[white]1500", data.GetCell(4, 1).Text)
	assert.Equal(t, "[green]0.250", data.GetCell(4, 2).Text)
	assert.Equal(t, "[lightskyblue]carrier", data.GetCell(9, 0).Text)
	assert.Equal(t, "[white]3000", data.GetCell(9, 1).Text)
}

func TestSNRPercent(t *testing.T) {
	assert.Equal(t, 0.0, snrPercent(-5))
	assert.Equal(t, 50.0, snrPercent(15))
	assert.Equal(t, 100.0, snrPercent(45))
}
