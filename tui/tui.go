// Package tui is the interactive chat screen: received text, a message input and live decoder stats.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/sonictext/config"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/jrwynneiii/sonictext/session"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"
)

var LogOut *tview.TextView

// Observer is told about every refresh, e.g. to export decoder gauges.
type Observer func(stats modem.Stats, backlog time.Duration)

// appended is what cur adds to prev. The session clears its text whenever listening stops, so a
// cur that does not extend prev is all new.
func appended(prev, cur string) string {
	if strings.HasPrefix(cur, prev) {
		return cur[len(prev):]
	}
	return cur
}

func snrPercent(db float64) float64 {
	return math.Max(0, math.Min(100, db/30*100))
}

// StartUI runs the chat screen until the user quits. The session must already be listening.
func StartUI(ctx context.Context, sess *session.Session, params modem.Params, tuiConf config.TuiConf, observe Observer) {
	app := tview.NewApplication()

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	received := tview.NewTextView().SetDynamicColors(true).SetWordWrap(true)
	received.SetBorder(true).SetTitle("Received")
	received.SetChangedFunc(func() {
		received.ScrollToEnd()
	})

	linkData := &LinkTableData{}
	keyData := NewKeyTableData(params)
	linkTable := tview.NewTable().SetContent(linkData)
	keyTable := tview.NewTable().SetContent(keyData)

	spectrumPlot := tvxwidgets.NewPlot()
	spectrumPlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue})
	spectrumPlot.SetMarker(tvxwidgets.PlotMarkerBraille)

	snrGauge := tvxwidgets.NewUtilModeGauge()
	snrGauge.SetLabel("SNR:             ")
	snrGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	snrGauge.SetWarnPercentage(99)
	snrGauge.SetCritPercentage(100)
	snrGauge.SetEmptyColor(tcell.ColorBlack)
	snrGauge.SetBorder(false)

	keyGauge := tvxwidgets.NewUtilModeGauge()
	keyGauge.SetLabel("Hail key score:  ")
	keyGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	keyGauge.SetWarnPercentage(99)
	keyGauge.SetCritPercentage(100)
	keyGauge.SetEmptyColor(tcell.ColorBlack)
	keyGauge.SetBorder(false)

	backlogGauge := tvxwidgets.NewUtilModeGauge()
	backlogGauge.SetLabel("Capture backlog: ")
	backlogGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	backlogGauge.SetWarnPercentage(tuiConf.BacklogWarnPct)
	backlogGauge.SetCritPercentage(tuiConf.BacklogCritPct)
	backlogGauge.SetEmptyColor(tcell.ColorBlack)
	backlogGauge.SetBorder(false)

	gaugeBox := tview.NewFlex()
	gaugeBox.SetDirection(tview.FlexRow)
	gaugeBox.AddItem(snrGauge, 0, 1, false)
	gaugeBox.AddItem(keyGauge, 0, 1, false)
	gaugeBox.AddItem(backlogGauge, 0, 1, false)
	gaugeBox.SetTitle("Signal Stats")
	gaugeBox.SetBorder(true)

	input := tview.NewInputField().SetLabel("> ").SetFieldWidth(0)
	input.SetBorder(true).SetTitle("Send (Enter)")
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := input.GetText()
		if text == "" || sess.IsPlaying() {
			return
		}
		input.SetText("")
		ms, err := sess.Send(ctx, text)
		if err != nil {
			log.Errorf("Could not send message: %v", err)
			if err := sess.Listen(); err != nil {
				log.Errorf("Could not resume listening: %v", err)
			}
			return
		}
		fmt.Fprintf(received, "[lightskyblue]> %s[white]\n", tview.Escape(text))
		// back to listening once the transmission has left the speaker
		go func() {
			sess.Wait()
			time.Sleep(time.Duration(ms) * time.Millisecond)
			if err := sess.Listen(); err != nil {
				log.Errorf("Could not resume listening: %v", err)
			}
		}()
	})

	LogOut.SetChangedFunc(func() {
		LogOut.ScrollToEnd()
		app.Draw()
	})
	LogOut.SetBorder(true).SetTitle("Log Output")
	log.SetOutput(LogOut)

	linkTable.SetSelectable(false, false).SetBorder(true).SetTitle("Link Status")
	keyTable.SetSelectable(false, false).SetBorder(true).SetTitle("Key Signal Strengths")

	spectrumPlot.SetBorder(true)
	spectrumPlot.SetTitle("Spectrum")

	page := tview.NewFlex().SetDirection(tview.FlexColumn)

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(received, 0, 5, false)
	leftCol.AddItem(input, 3, 0, true)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(linkTable, 0, 3, false)
	rightCol.AddItem(gaugeBox, 0, 2, false)
	rightCol.AddItem(keyTable, 0, 3, false)
	spectrum := sess.Decoder() != nil && sess.Decoder().DoFFT
	if spectrum {
		rightCol.AddItem(spectrumPlot, 0, 2, false)
	}
	if tuiConf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 2, false)
	}

	page.AddItem(leftCol, 0, 3, true)
	page.AddItem(rightCol, 0, 2, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		cfg := sess.Config()
		switch event.Key() {
		case tcell.KeyF2:
			sess.SetUseCompression(!cfg.UseCompression)
		case tcell.KeyF3:
			sess.SetUseChecksum(!cfg.UseChecksum)
		case tcell.KeyF4:
			sess.SetUseFEC(!cfg.UseFEC)
		default:
			return event
		}
		return nil
	})

	refresh := time.Duration(max(tuiConf.RefreshMs, 50)) * time.Millisecond
	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		lastText := ""
		for {
			select {
			case <-ctx.Done():
				app.Stop()
				return
			case <-ticker.C:
			}

			stats := LinkStats{
				Listening: sess.IsListening(),
				Playing:   sess.IsPlaying(),
				Config:    sess.Config(),
			}
			dec := sess.Decoder()
			if dec != nil {
				stats.Decoder = dec.Stats()
				stats.Backlog = dec.Backlog()
			}
			linkData.Update(stats)
			keyData.Update(stats.Decoder.Strengths)
			if observe != nil {
				observe(stats.Decoder, stats.Backlog)
			}

			snrGauge.SetValue(snrPercent(stats.Decoder.CurrentSNR))
			keyGauge.SetValue(stats.Decoder.LastKeyScore * 100)
			backlogGauge.SetValue(math.Min(100, float64(stats.Backlog.Milliseconds())/10))

			text := sess.ReceivedText()
			if added := appended(lastText, text); added != "" {
				fmt.Fprint(received, tview.Escape(added))
			}
			lastText = text

			if spectrum && dec != nil {
				dec.FFTMutex.RLock()
				bins := append([]float64(nil), dec.CurrentFFT...)
				dec.FFTMutex.RUnlock()
				if len(bins) > 0 {
					spectrumPlot.SetData([][]float64{bins})
				}
			}

			app.Draw()
		}
	}()

	if err := app.SetRoot(page, true).EnableMouse(true).Run(); err != nil {
		log.Fatalf("Could not start UI: %v", err)
	}
}
