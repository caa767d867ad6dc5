package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

const keyHelp = `Local Control:
  p - Toggle play/pause locally
  s - Force sync with server
  i - Show idle/connection status
  q - Quit client
  ? - Show this help`

// Console is the client's local key surface.
type Console struct {
	eng      *Engine
	sup      *Supervisor
	in       io.Reader
	out      io.Writer
	shutdown func()
}

func NewConsole(eng *Engine, sup *Supervisor, in io.Reader, out io.Writer, shutdown func()) *Console {
	return &Console{eng: eng, sup: sup, in: in, out: out, shutdown: shutdown}
}

func (c *Console) Run() {
	fmt.Fprintln(c.out, keyHelp)

	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		switch strings.TrimSpace(strings.ToLower(sc.Text())) {
		case "":
		case "p":
			c.eng.TogglePause()
		case "s":
			c.sup.ForceSync()
		case "i":
			st := c.eng.Status()
			conn := "Disconnected"
			if st.Connected {
				conn = "Connected"
			}
			mode := "Active"
			if st.Idle {
				mode = "Idle"
			}
			play := "Paused"
			if st.Playing {
				play = "Playing"
			} else if st.LocallyPaused {
				play = "Paused (locally)"
			}
			fmt.Fprintf(c.out, "Status: %s | %s | %s\n", conn, mode, play)
			if st.AdContent != "" {
				fmt.Fprintf(c.out, "  Current Ad: %s | Index: %d | Remaining: %s\n",
					st.AdContent, st.Index, st.Remaining.Round(100*time.Millisecond))
			}
		case "q":
			c.shutdown()
			return
		case "?":
			fmt.Fprintln(c.out, keyHelp)
		default:
			fmt.Fprintln(c.out, "Unknown command. Type ? for help")
		}
	}
}
