package tui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/rivo/tview"
)

type LinkStats struct {
	Listening bool
	Playing   bool
	Decoder   modem.Stats
	Backlog   time.Duration
	Config    frame.Config
}

type LinkTableData struct {
	tview.TableContentReadOnly
	mu    sync.RWMutex
	stats LinkStats
}

type KeyTableData struct {
	tview.TableContentReadOnly
	mu        sync.RWMutex
	freqs     [modem.BitsPerByte]float64
	hail      float64
	strengths modem.KeyStrengths
}

var linkRows = []string{
	"Listening:",
	"Playing:",
	"Decoder state:",
	"Locks (false):",
	"Frames rx'd:",
	"Truncated / dropped:",
	"Backlog:",
	"Compression [F2]:",
	"Checksum [F3]:",
	"FEC [F4]:",
}

func (l *LinkTableData) Update(s LinkStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = s
}

func (l *LinkTableData) GetRowCount() int {
	return len(linkRows)
}

func (l *LinkTableData) GetColumnCount() int {
	return 2
}

func boolCell(v bool) *tview.TableCell {
	color := tcell.ColorGreen
	if !v {
		color = tcell.ColorRed
	}
	return tview.NewTableCell(fmt.Sprintf("%v", v)).SetTextColor(color)
}

func (l *LinkTableData) GetCell(row, column int) *tview.TableCell {
	if row < 0 || row >= len(linkRows) {
		return tview.NewTableCell("ERROR")
	}
	if column == 0 {
		return tview.NewTableCell(linkRows[row]).SetTextColor(tcell.ColorLightSkyBlue)
	}

	l.mu.RLock()
	s := l.stats
	l.mu.RUnlock()
	switch row {
	case 0:
		return boolCell(s.Listening)
	case 1:
		return boolCell(s.Playing)
	case 2:
		color := tcell.ColorWhite
		if s.Decoder.State == modem.Demodulating {
			color = tcell.ColorGreen
		}
		return tview.NewTableCell(s.Decoder.State.String()).SetTextColor(color)
	case 3:
		return tview.NewTableCell(fmt.Sprintf("%d (%d)", s.Decoder.Locks, s.Decoder.FalseLocks))
	case 4:
		return tview.NewTableCell(fmt.Sprintf("%d", s.Decoder.Frames))
	case 5:
		return tview.NewTableCell(fmt.Sprintf("[red]%d / %d", s.Decoder.Truncated, s.Decoder.Dropped))
	case 6:
		return tview.NewTableCell(fmt.Sprintf("%d ms", s.Backlog.Milliseconds()))
	case 7:
		return boolCell(s.Config.UseCompression)
	case 8:
		return boolCell(s.Config.UseChecksum)
	default:
		if !s.Config.UseFEC {
			return boolCell(false)
		}
		return tview.NewTableCell(s.Config.Fec.Kind.String()).SetTextColor(tcell.ColorGreen)
	}
}

func NewKeyTableData(p modem.Params) *KeyTableData {
	return &KeyTableData{freqs: p.Frequencies(), hail: p.HailFrequency}
}

func (k *KeyTableData) Update(s modem.KeyStrengths) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.strengths = s
}

func (k *KeyTableData) GetRowCount() int {
	return modem.BitsPerByte + 2
}

func (k *KeyTableData) GetColumnCount() int {
	return 3
}

func (k *KeyTableData) GetCell(row, column int) *tview.TableCell {
	if row == 0 {
		return tview.NewTableCell([]string{"[lightskyblue]Tone ", "[white]Freq (Hz) ", "[green]Key strength"}[column%3])
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	label, freq, strength := "carrier", k.hail, k.strengths.Carrier
	if bit := row - 1; bit < modem.BitsPerByte {
		label, freq, strength = fmt.Sprintf("bit %d", bit), k.freqs[bit], k.strengths.Bits[bit]
	}
	switch column {
	case 0:
		return tview.NewTableCell("[lightskyblue]" + label)
	case 1:
		return tview.NewTableCell(fmt.Sprintf("[white]%.0f", freq))
	default:
		return tview.NewTableCell(fmt.Sprintf("[green]%.3f", strength))
	}
}
