// Package cli implements the interactive operator CLI for vmark-node.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/vmark/vmark-node/pkg/cmdtree"
	"github.com/vmark/vmark-node/pkg/config"
	"github.com/vmark/vmark-node/pkg/forwarding"
	"github.com/vmark/vmark-node/pkg/ifman"
	"github.com/vmark/vmark-node/pkg/logging"
	"github.com/vmark/vmark-node/pkg/twamp"
)

// handler executes one command root. Output is returned, not printed, so
// handlers stay testable.
type handler func(ctx context.Context, args []string) (string, error)

// CLI is the interactive command-line interface.
type CLI struct {
	rl       *readline.Instance
	engine   *forwarding.Engine
	sessions *twamp.Manager
	ifm      *ifman.Manager
	logBuf   *logging.RingBuffer
	defaults config.TWAMPDefaults

	hostname string
	username string

	// handlers is the static command registry: one entry per command root.
	handlers map[string]handler
}

// New creates a CLI over the given subsystems. defaults fill in TWAMP
// options the operator omits.
func New(engine *forwarding.Engine, sessions *twamp.Manager, ifm *ifman.Manager, logBuf *logging.RingBuffer, defaults config.TWAMPDefaults) *CLI {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "vmark-node"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "root"
	}

	c := &CLI{
		engine:   engine,
		sessions: sessions,
		ifm:      ifm,
		logBuf:   logBuf,
		defaults: defaults,
		hostname: hostname,
		username: username,
	}
	c.handlers = map[string]handler{
		"xdp-switch": c.handleXDPSwitch,
		"twamp":      c.handleTwamp,
		"config":     c.handleConfig,
		"show":       c.handleShow,
	}

	cmdtree.RuleNamesFn = c.ruleNames
	cmdtree.InterfaceNamesFn = c.interfaceNames
	return c
}

func (c *CLI) prompt() string {
	return fmt.Sprintf("%s/%s@vmark-node> ", c.username, c.hostname)
}

func (c *CLI) ruleNames() []string {
	var names []string
	for _, r := range c.engine.List() {
		names = append(names, r.Name)
	}
	return names
}

func (c *CLI) interfaceNames() []string {
	infos, err := c.ifm.List(false)
	if err != nil {
		return nil
	}
	var names []string
	for _, i := range infos {
		names = append(names, i.Name)
	}
	return names
}

// Run starts the interactive loop and blocks until exit or EOF.
func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     "/tmp/vmark_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &treeCompleter{},
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer c.rl.Close()

	fmt.Println("vMark-node - software Ethernet demarcation device")
	fmt.Println("Type '?' for help")
	fmt.Println()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "?") {
			c.printHelp(strings.TrimSpace(strings.TrimSuffix(line, "?")))
			continue
		}

		out, err := c.dispatch(line)
		if err != nil {
			if err == errExit {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}
	return nil
}

var errExit = fmt.Errorf("exit")

// dispatch resolves the command root in the static registry and runs it.
// Long-running commands are cancelable with Ctrl-C.
func (c *CLI) dispatch(line string) (string, error) {
	parts := strings.Fields(line)
	root := parts[0]

	switch root {
	case "quit", "exit":
		return "", errExit
	case "help":
		c.printHelp("")
		return "", nil
	}

	h, ok := c.handlers[root]
	if !ok {
		return "", fmt.Errorf("unknown command %q, type '?' for help", root)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stop()
	return h(ctx, parts[1:])
}

func (c *CLI) printHelp(prefix string) {
	words := strings.Fields(prefix)
	candidates := cmdtree.Candidates(cmdtree.Tree, words)
	if len(candidates) == 0 {
		fmt.Println("No help available for this path.")
		return
	}
	cmdtree.WriteHelp(os.Stdout, candidates)
}

// parseNamedParams reads "key value" pairs, treating flags (members of
// flagKeys) as value-less.
func parseNamedParams(args []string, flagKeys map[string]bool) (map[string]string, error) {
	params := make(map[string]string)
	for i := 0; i < len(args); {
		key := args[i]
		if flagKeys[key] {
			params[key] = "true"
			i++
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("missing value for parameter %q", key)
		}
		params[key] = args[i+1]
		i += 2
	}
	return params, nil
}
