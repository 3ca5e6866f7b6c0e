package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/egorky/iafsm/internal/presentation/tui"
	"github.com/egorky/iafsm/pkg/domain"
)

// TurnProcessor runs one turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error)
}

// ChatOptions configures RunChat.
type ChatOptions struct {
	SessionID string
	// Resume skips the initial call of a new conversation.
	Resume bool
	// JSON writes one TurnResult per line instead of the chat view.
	JSON bool
	// Render turns markdown into terminal output. Nil prints it as is.
	Render func(string) (string, error)
}

// RunChat reads turns from in until EOF, "quit" or ctx is done, and writes
// each result to out. A line is either a JSON TurnRequest or
// "[intent] [key=value ...]".
func RunChat(ctx context.Context, eng TurnProcessor, in io.Reader, out io.Writer, opts ChatOptions) error {
	if !opts.Resume {
		if err := chatTurn(ctx, eng, out, opts, domain.TurnRequest{IsInitialCall: true}); err != nil {
			return err
		}
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if !opts.JSON {
			fmt.Fprint(out, "> ")
		}
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		}

		req, err := ParseLine(line)
		if err != nil {
			printSystemMessage(out, "%v", err)
			continue
		}
		if err := chatTurn(ctx, eng, out, opts, req); err != nil {
			return err
		}
	}
}

func chatTurn(ctx context.Context, eng TurnProcessor, out io.Writer, opts ChatOptions, req domain.TurnRequest) error {
	if req.SessionID == "" {
		req.SessionID = opts.SessionID
	}
	res, err := eng.ProcessTurn(ctx, req)
	if err != nil {
		if domain.IsConfigurationError(err) {
			printSystemMessage(out, "%v", err)
			return nil
		}
		return err
	}

	if opts.JSON {
		return json.NewEncoder(out).Encode(res)
	}
	md := tui.TurnMarkdown(res)
	if opts.Render != nil {
		if rendered, err := opts.Render(md); err == nil {
			md = rendered
		}
	}
	fmt.Fprintln(out, md)
	return nil
}

// ParseLine turns a chat line into a TurnRequest. Values that are valid
// JSON keep their type, so count=2 is a number and ok=true a boolean.
func ParseLine(line string) (domain.TurnRequest, error) {
	var req domain.TurnRequest
	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return req, fmt.Errorf("invalid JSON turn: %w", err)
		}
		return req, nil
	}

	for _, tok := range strings.Fields(line) {
		key, value, isParam := strings.Cut(tok, "=")
		if !isParam {
			if req.Intent != "" {
				return req, errors.New("only one intent per turn; use key=value for parameters")
			}
			req.Intent = tok
			continue
		}
		if key == "" {
			return req, fmt.Errorf("parameter %q has no name", tok)
		}
		if req.Parameters == nil {
			req.Parameters = make(map[string]any)
		}
		req.Parameters[key] = decodeValue(value)
	}
	return req, nil
}

func decodeValue(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return value
	}
	return decoded
}
