package server

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const consoleHelp = `Commands:
  play/pause         - Toggle between playing and pausing ad display
  list               - Show the current ad list
  add [content]      - Add a new ad with the specified content
  remove [id]        - Remove an ad by ID
  scan               - Scan the media directory for new files
  duration [seconds] - Set the duration for each ad
  clients            - Show connected clients
  help               - Show this help
  exit               - Shut down the server`

// Console is the interactive operator surface. It runs on its own
// goroutine reading line commands; exit invokes the shutdown callback.
type Console struct {
	srv      *Server
	in       io.Reader
	out      io.Writer
	shutdown func()
}

func NewConsole(srv *Server, in io.Reader, out io.Writer, shutdown func()) *Console {
	return &Console{srv: srv, in: in, out: out, shutdown: shutdown}
}

func (c *Console) Run() {
	fmt.Fprintln(c.out, "Ad Server CLI")
	fmt.Fprintln(c.out, consoleHelp)

	sc := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToLower(cmd) {
		case "play", "pause":
			c.srv.TogglePlayPause()
		case "list":
			ads := c.srv.Catalog().Ads()
			fmt.Fprintf(c.out, "Current ads (%d):\n", len(ads))
			for _, ad := range ads {
				fmt.Fprintf(c.out, "  ID: %d, Content: %s, File: %s\n", ad.ID, ad.Content, ad.Path)
			}
		case "add":
			if arg == "" {
				fmt.Fprintln(c.out, "Usage: add [content]")
				continue
			}
			ad, err := c.srv.Catalog().Add(arg, "")
			if err != nil {
				fmt.Fprintf(c.out, "Failed to add ad: %v\n", err)
				continue
			}
			c.srv.BroadcastAdList()
			fmt.Fprintf(c.out, "Added new ad: %s (File: %s)\n", ad.Content, ad.Path)
		case "remove":
			id, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Fprintln(c.out, "Invalid ad ID")
				continue
			}
			removed, err := c.srv.Catalog().Remove(id)
			if err != nil {
				fmt.Fprintf(c.out, "Failed to remove ad: %v\n", err)
				continue
			}
			if !removed {
				fmt.Fprintf(c.out, "No ad with ID %d\n", id)
				continue
			}
			c.srv.BroadcastAdList()
			fmt.Fprintf(c.out, "Removed ad ID: %d\n", id)
		case "scan":
			fmt.Fprintln(c.out, "Scanning media directory for changes...")
			changed, err := c.srv.Catalog().Rescan()
			if err != nil {
				fmt.Fprintf(c.out, "Scan failed: %v\n", err)
				continue
			}
			if changed {
				c.srv.BroadcastAdList()
			}
			fmt.Fprintf(c.out, "Ad list now contains %d ads\n", c.srv.Catalog().Len())
		case "duration":
			secs, err := strconv.Atoi(arg)
			if err != nil || secs <= 0 {
				fmt.Fprintln(c.out, "Duration must be a positive number of seconds")
				continue
			}
			c.srv.SetAdDuration(time.Duration(secs) * time.Second)
			fmt.Fprintf(c.out, "Ad duration set to %d seconds\n", secs)
		case "clients":
			sessions := c.srv.Registry().Snapshot()
			fmt.Fprintf(c.out, "Connected clients (%d):\n", len(sessions))
			for _, s := range sessions {
				fmt.Fprintf(c.out, "  Client: %s, Address: %s, Last active: %s ago\n",
					s.ClientID(), s.Remote(), time.Since(s.LastActive()).Round(100*time.Millisecond))
			}
		case "help":
			fmt.Fprintln(c.out, consoleHelp)
		case "exit":
			c.shutdown()
			return
		default:
			fmt.Fprintln(c.out, "Unknown command. Type 'help' for available commands.")
		}
	}
}
