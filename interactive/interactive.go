// interactive/interactive.go
package interactive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/sammcj/deskchat/bridge"
	"github.com/sammcj/deskchat/types"
)

// Options configures the REPL
type Options struct {
	In     io.Reader
	Out    io.Writer
	Model  string
	Debug  bool
	Logger *log.Logger
	// Interrupts delivers Ctrl+C; nil installs a SIGINT handler
	Interrupts <-chan os.Signal
}

// Interactive is a terminal chat loop over a conversation. Turn output is
// printed by the conversation's emitter, normally a Printer.
type Interactive struct {
	logger     *log.Logger
	scanner    *bufio.Reader
	out        io.Writer
	conv       *bridge.Conversation
	model      string
	debug      bool
	interrupts <-chan os.Signal
}

// New creates a REPL over conv
func New(conv *bridge.Conversation, opts Options) *Interactive {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Interactive{
		logger:     opts.Logger,
		scanner:    bufio.NewReader(opts.In),
		out:        opts.Out,
		conv:       conv,
		model:      opts.Model,
		debug:      opts.Debug,
		interrupts: opts.Interrupts,
	}
}

// Start runs the loop until quit, end of input or ctx. Ctrl+C cancels the
// running turn, or exits when idle.
func (i *Interactive) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupts := i.interrupts
	if interrupts == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		defer signal.Stop(ch)
		interrupts = ch
	}
	go func() {
		for {
			select {
			case <-interrupts:
				if i.conv.Busy() {
					fmt.Fprintln(i.out, "\nCancelling...")
					i.conv.Cancel()
				} else {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	lines := make(chan string)
	go i.readLines(ctx, lines)

	fmt.Fprintln(i.out, "\n=== deskchat ready ===")
	fmt.Fprintln(i.out, "Type 'quit' or press Ctrl+C to exit, /help for commands")
	if i.model != "" {
		fmt.Fprintln(i.out, "Connected to model:", i.model)
	}
	fmt.Fprintln(i.out, "======================")

	for {
		fmt.Fprint(i.out, "\n> ")
		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(i.out, "\nGoodbye!")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			fmt.Fprintln(i.out, "Goodbye!")
			return nil
		}
		if strings.HasPrefix(input, "/") {
			i.command(ctx, input)
			continue
		}

		if i.debug {
			i.logger.Printf("Sending message: %s", input)
		}
		if err := i.conv.Chat(ctx, []types.Content{types.TextContent(input)}); err != nil && i.debug {
			i.logger.Printf("Turn failed: %v", err)
		}
	}
}

func (i *Interactive) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	for {
		line, err := i.scanner.ReadString('\n')
		if line != "" {
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF && i.debug {
				i.logger.Printf("Error reading input: %v", err)
			}
			return
		}
	}
}

func (i *Interactive) command(ctx context.Context, input string) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(i.out, "/history           replay the conversation")
		fmt.Fprintln(i.out, "/clear             clear the conversation")
		fmt.Fprintln(i.out, "/delete <id>       delete a message and what it is paired with")
		fmt.Fprintln(i.out, "/delete-tool <id>  delete a tool call and its result")
	case "/history":
		i.conv.ReplayHistory()
	case "/clear":
		if err := i.conv.ClearHistory(ctx); err != nil {
			fmt.Fprintf(i.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(i.out, "History cleared.")
	case "/delete":
		if len(fields) != 2 {
			fmt.Fprintln(i.out, "Usage: /delete <id>")
			return
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			fmt.Fprintf(i.out, "Invalid id: %s\n", fields[1])
			return
		}
		i.reportDelete(i.conv.DeleteMessage(ctx, id))
	case "/delete-tool":
		if len(fields) != 2 {
			fmt.Fprintln(i.out, "Usage: /delete-tool <tool_call_id>")
			return
		}
		i.reportDelete(i.conv.DeleteToolInteraction(ctx, fields[1]))
	default:
		fmt.Fprintf(i.out, "Unknown command: %s\n", fields[0])
	}
}

func (i *Interactive) reportDelete(found bool, err error) {
	switch {
	case err != nil:
		fmt.Fprintf(i.out, "Error: %v\n", err)
	case !found:
		fmt.Fprintln(i.out, "Not found.")
	default:
		fmt.Fprintln(i.out, "Deleted.")
	}
}
