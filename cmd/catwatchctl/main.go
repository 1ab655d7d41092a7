// catwatchctl queries a running catwatch daemon.
//
// With a command on the command line it runs that command and exits.
// Without one it opens an interactive shell on a terminal, or reads one
// command per line from standard input otherwise.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/catwatch/internal/client"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	addr := flag.String("addr", "localhost:5000", "daemon address (host:port or URL)")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: catwatchctl [flags] [command [args]]\n\nflags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\ncommands:\n")
		printHelp(os.Stderr)
	}
	flag.Parse()

	cfg := client.DefaultConfig()
	cfg.Addr = *addr
	cfg.RequestTimeout = *timeout

	c, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catwatchctl: %v\n", err)
		os.Exit(2)
	}
	defer c.Close()

	sh := &shell{cfg: cfg, client: c, out: os.Stdout, json: *jsonOut, timeout: *timeout}

	if args := flag.Args(); len(args) > 0 {
		if err := sh.run(args); err != nil {
			fmt.Fprintf(os.Stderr, "catwatchctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		os.Exit(sh.script(bufio.NewScanner(os.Stdin)))
	}

	fmt.Printf("catwatchctl %s connected to %s. Type \"help\" for commands.\n", Version, *addr)
	p := prompt.New(
		sh.execute,
		complete,
		prompt.OptionPrefix("catwatch> "),
		prompt.OptionTitle("catwatchctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
}

func isExit(in string) bool {
	switch strings.TrimSpace(in) {
	case "exit", "quit":
		return true
	}
	return false
}

// script runs one command per line and returns the exit code.
func (s *shell) script(sc *bufio.Scanner) int {
	code := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if isExit(line) {
			break
		}
		if err := s.run(strings.Fields(line)); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", line, err)
			code = 1
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		return 1
	}
	return code
}

func complete(d prompt.Document) []prompt.Suggest {
	// Only the command word is completed.
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	suggestions := make([]prompt.Suggest, 0, len(commands)+1)
	for _, cmd := range commands {
		suggestions = append(suggestions, prompt.Suggest{Text: cmd.name, Description: cmd.summary})
	}
	suggestions = append(suggestions, prompt.Suggest{Text: "exit", Description: "leave the shell"})
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
