// Corkboard CLI - command line client for a corkboard room
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/corkboard-app/corkboard/clients/go/corkboard"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	roomID := os.Args[1]

	url := os.Getenv("CORKBOARD_URL")
	if url == "" {
		url = "ws://localhost:8080/ws"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := corkboard.Dial(ctx, url, corkboard.Options{})
	cancel()
	exitOnError(err)
	defer client.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	board, err := client.JoinRoom(ctx, roomID)
	cancel()
	exitOnError(err)

	fmt.Printf("joined %s (%d boxes)\n", roomID, len(board.Boxes()))
	fmt.Println("commands: list | create <top> <left> [text] | move <id> <top> <left> | text <id> <text> | rm <id> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); scanner.Scan(); fmt.Print("> ") {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "list":
			for _, box := range board.Boxes() {
				fmt.Printf("  %s  (%.0f, %.0f)  %q\n", box.ID, box.Top, box.Left, box.Text)
			}

		case "create":
			if len(fields) < 3 {
				fmt.Fprintln(os.Stderr, "usage: create <top> <left> [text]")
				continue
			}
			top, left := parseNum(fields[1]), parseNum(fields[2])
			id, err := board.CreateBox(top, left, strings.Join(fields[3:], " "))
			exitOnError(err)
			fmt.Printf("created %s\n", id)

		case "move":
			if len(fields) < 4 {
				fmt.Fprintln(os.Stderr, "usage: move <id> <top> <left>")
				continue
			}
			h := board.Box(fields[1])
			if h == nil {
				fmt.Fprintln(os.Stderr, "no such box")
				continue
			}
			h.BeginDrag()
			h.DragTo(parseNum(fields[2]), parseNum(fields[3]))
			exitOnError(h.EndDrag())

		case "text":
			if len(fields) < 3 {
				fmt.Fprintln(os.Stderr, "usage: text <id> <text>")
				continue
			}
			h := board.Box(fields[1])
			if h == nil {
				fmt.Fprintln(os.Stderr, "no such box")
				continue
			}
			h.Input(strings.Join(fields[2:], " "))
			h.Flush()

		case "rm":
			if len(fields) < 2 {
				fmt.Fprintln(os.Stderr, "usage: rm <id>")
				continue
			}
			exitOnError(board.DeleteBox(fields[1]))

		case "quit":
			return

		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", fields[0])
		}
	}
}

func parseNum(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Corkboard CLI

Usage: corkboard <room_id>

Environment:
  CORKBOARD_URL   websocket endpoint (default ws://localhost:8080/ws)`)
}
