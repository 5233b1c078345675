// Package flappy renders a match session in a terminal and turns key presses into inputs.
package flappy

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"flappysync/internal/match"
	"flappysync/internal/state"
)

// DefaultFrameRate is how often the terminal redraws.
const DefaultFrameRate = 30

// Action is what a key press asks the frontend to do.
type Action int

const (
	// ActionNone ignores the event.
	ActionNone Action = iota
	// ActionStart starts a round from the start or end screen.
	ActionStart
	// ActionJump flaps the owned bird.
	ActionJump
	// ActionQuit leaves the game.
	ActionQuit
)

// KeyAction maps a key press onto an action. Jump keys are w, k, Up and Space; q, Escape and
// Ctrl-C quit; everything else starts a round.
func KeyAction(ev *tcell.EventKey) Action {
	if ev == nil {
		return ActionNone
	}
	switch ev.Key() {
	case tcell.KeyUp:
		return ActionJump
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return ActionQuit
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'w', 'W', 'k', 'K', ' ':
			return ActionJump
		case 'q', 'Q':
			return ActionQuit
		}
	}
	return ActionStart
}

// Input converts an action into a session input.
func (a Action) Input() (match.Input, bool) {
	switch a {
	case ActionJump:
		return match.InputJump, true
	case ActionStart:
		return match.InputStart, true
	default:
		return 0, false
	}
}

// Source is the part of a session the terminal needs.
type Source interface {
	View() match.View
	Submit(in match.Input) bool
}

// Terminal draws views onto a tcell screen.
type Terminal struct {
	screen tcell.Screen
	events chan tcell.Event
	frame  time.Duration
	Room   string
}

// NewTerminal wraps an initialised screen.
func NewTerminal(screen tcell.Screen, frameRate int) *Terminal {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Terminal{
		screen: screen,
		events: make(chan tcell.Event, 32),
		frame:  time.Second / time.Duration(frameRate),
	}
}

// Run redraws at the frame rate and forwards key presses to src until the context ends or
// the player quits. It returns nil on a quit key.
func (t *Terminal) Run(ctx context.Context, src Source) error {
	//1.- PollEvent blocks, so it feeds a channel from its own goroutine until Fini.
	go func() {
		for {
			ev := t.screen.PollEvent()
			if ev == nil {
				close(t.events)
				return
			}
			t.events <- ev
		}
	}()

	ticker := time.NewTicker(t.frame)
	defer ticker.Stop()
	t.Draw(src.View())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-t.events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventResize:
				t.screen.Sync()
			case *tcell.EventKey:
				action := KeyAction(ev)
				if action == ActionQuit {
					return nil
				}
				if in, ok := action.Input(); ok {
					src.Submit(in)
				}
			}
		case <-ticker.C:
			t.Draw(src.View())
		}
	}
}

var (
	styleText  = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleDim   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	stylePipe  = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleTitle = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
)

func birdStyle(tag state.Tag) tcell.Style {
	if tag == state.TagB {
		return tcell.StyleDefault.Foreground(tcell.ColorBlue).Bold(true)
	}
	return tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
}

// Draw renders one view. The field is scaled to the screen with row zero reserved for the
// score line.
func (t *Terminal) Draw(view match.View) {
	screen := t.screen
	screen.Clear()
	cols, rows := screen.Size()
	if cols <= 0 || rows <= 1 {
		screen.Show()
		return
	}
	g := view.Geometry
	if g.Width <= 0 || g.Height <= 0 {
		g = state.DefaultGeometry()
	}
	fieldRows := rows - 1
	sx := float64(cols) / g.Width
	sy := float64(fieldRows) / g.Height
	put := func(x, y int, s string, style tcell.Style) {
		for _, r := range s {
			screen.SetContent(x, y, r, nil, style)
			x++
		}
	}
	center := func(y int, s string, style tcell.Style) {
		put((cols-len([]rune(s)))/2, y, s, style)
	}

	//1.- Pipes first so birds stay visible on top of them.
	for _, pipe := range view.Pipes {
		left := int(pipe.X * sx)
		right := int((pipe.X + g.PipeWidth) * sx)
		if right == left {
			right++
		}
		gapTop := int(float64(pipe.GapTop) * sy)
		gapBottom := int(float64(pipe.GapTop+g.PipeGap) * sy)
		for x := left; x < right; x++ {
			if x < 0 || x >= cols {
				continue
			}
			for y := 0; y < fieldRows; y++ {
				if y < gapTop || y >= gapBottom {
					screen.SetContent(x, y+1, '█', nil, stylePipe)
				}
			}
		}
	}

	//2.- Birds are drawn even when dead so the final position stays on screen.
	col := int(g.BirdX * sx)
	for _, bird := range view.Birds {
		row := int(bird.Y*sy) + 1
		if row < 1 {
			row = 1
		}
		if row >= rows {
			row = rows - 1
		}
		glyph := '@'
		if !bird.Alive {
			glyph = 'x'
		}
		screen.SetContent(col, row, glyph, nil, birdStyle(bird.Tag))
	}

	//3.- Score line.
	x := 0
	for _, bird := range view.Birds {
		label := fmt.Sprintf("%s %d", bird.Tag, bird.Score)
		if !bird.Alive && view.Phase == match.PhaseRunning {
			label += " out"
		}
		if bird.Local {
			label += "*"
		}
		put(x, 0, label, birdStyle(bird.Tag))
		x += len(label) + 3
	}
	status := view.Role.String()
	if t.Room != "" {
		status += " @ " + t.Room
	}
	put(cols-len(status), 0, status, styleDim)

	mid := rows / 2
	switch view.Phase {
	case match.PhaseNotStarted:
		center(mid-1, "FLAPPY BIRD", styleTitle)
		if view.Role == match.RoleObserver {
			center(mid+1, "observing, waiting for the players to start", styleText)
		} else {
			center(mid+1, "press any key to start, w/k/up/space to flap, q to quit", styleText)
		}
	case match.PhaseRunning:
		if view.WaitingForSeed {
			center(mid, "waiting for the round seed...", styleDim)
		}
	case match.PhaseEnded:
		center(mid-1, "GAME OVER", styleTitle)
		center(mid+1, outcomeText(view.Outcome), styleText)
		if view.Role != match.RoleObserver {
			center(mid+2, "press any key to play again", styleDim)
		}
	}
	screen.Show()
}

func outcomeText(out match.Outcome) string {
	if out.Tie {
		return fmt.Sprintf("tie %d - %d", out.ScoreA, out.ScoreB)
	}
	return fmt.Sprintf("%s wins %d - %d", out.Winner, out.ScoreA, out.ScoreB)
}
