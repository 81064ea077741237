package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// Loop owns the prompt. It reads one line at a time and hands it to the
// dispatcher; a command handler runs to completion before the next prompt
// is shown, so the prompt never races a transfer's cleanup output.
type Loop struct {
	sess *Session
	disp *Dispatcher
	rl   *readline.Instance
}

// NewLoop builds the readline instance with command-name completion.
func NewLoop(sess *Session, disp *Dispatcher) (*Loop, error) {
	var items []readline.PrefixCompleterInterface
	for _, name := range disp.Names() {
		items = append(items, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt: %w", err)
	}
	return &Loop{sess: sess, disp: disp, rl: rl}, nil
}

// Run blocks reading lines until EOF. Ctrl-C while editing discards the
// current line and goes through the session's interrupt protocol.
func (l *Loop) Run() error {
	defer l.rl.Close()
	for {
		line, err := l.rl.Readline()
		switch {
		case err == readline.ErrInterrupt:
			l.sess.Interrupt()
			continue
		case err == io.EOF:
			return nil
		case err != nil:
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		l.disp.Dispatch(line)
	}
}
