package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dougsko/rdsmpx/pkg/client"
)

var (
	socketPath = flag.String("socket", "/tmp/rdsmpx.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'SESSIONS:5')")
	refresh    = flag.Duration("refresh", 250*time.Millisecond, "Refresh interval of the top view")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	client := client.NewSocketClient(*socketPath)

	if strings.EqualFold(*command, "top") {
		if err := runTop(client, *refresh); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	response, err := client.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(2)
	}
}

func showHelp() {
	fmt.Println("mpxctl - rdsmpx daemon control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/rdsmpx.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -refresh <dur>    Refresh interval of the top view (default: 250ms)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get stream status, levels and spectrum")
	fmt.Println("  START                     Start with the last used configuration")
	fmt.Println("  START:{json}              Start with fields overridden, e.g. {\"ps\":\"KXYZ\"}")
	fmt.Println("  STOP                      Stop the running stream")
	fmt.Println("  DEVICES                   List output and capture devices")
	fmt.Println("  CONFIG[:last|file]        Show the stream configuration")
	fmt.Println("  SESSIONS[:n]              Show the last n sessions")
	fmt.Println("  PING                      Test connection")
	fmt.Println("  top                       Live dashboard (q to quit)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s 'START:{\"pi\":\"C0DE\",\"ps\":\"KXYZ\",\"rt\":\"Now playing\"}'\n", os.Args[0])
	fmt.Printf("  %s SESSIONS:5\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/rdsmpx.sock\n")
}
