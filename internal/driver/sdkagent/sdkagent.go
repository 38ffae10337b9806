// Package sdkagent implements the Agent Driver contract by streaming the
// Anthropic Messages API in-process (no subprocess), grounded on
// NeboLoop's AnthropicProvider.Stream. It reduces the SDK's native stream
// into spec §9's typed event sum (Text, ToolCall, Result, Error)
// internally and folds that into the same {output, exitCode} shape the
// cliagent driver returns, so the Run Loop Engine treats both uniformly.
package sdkagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loomhq/loom/internal/driver"
)

// EventKind enumerates the typed event sum from spec §9.
type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventResult
	EventError
)

// Event is one item of the driver-internal typed event stream.
type Event struct {
	Kind     EventKind
	Text     string
	ToolName string
	ToolArgs string
	Err      error
}

const defaultMaxTokens = 8192

// Driver wraps the Anthropic Messages streaming API as an Agent Driver.
type Driver struct {
	name   string
	client anthropic.Client
	model  string
}

// New creates an sdkagent Driver authenticated with apiKey, defaulting to
// model unless an invocation's AgentConfig overrides it.
func New(name, apiKey, model string) *Driver {
	return &Driver{
		name:   name,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Invoke(ctx context.Context, inv driver.Invocation) (driver.Result, error) {
	model := d.model
	if inv.Config.Model != "" {
		model = inv.Config.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(inv.Prompt)),
		},
	}
	if inv.Config.CodingStyle != "" {
		params.System = []anthropic.TextBlockParam{{Text: inv.Config.CodingStyle}}
	}

	finalize := inv.AddCommand(fmt.Sprintf("sdkagent:%s", model), nil, inv.SandboxPath)

	stream := d.client.Messages.NewStreaming(ctx, params)
	relocate := sandboxRelativizer(inv.SandboxPath)

	var out strings.Builder
	exitCode := 0

streamLoop:
	for stream.Next() {
		select {
		case <-inv.Cancel:
			exitCode = -1
			break streamLoop
		default:
		}

		for _, ev := range translate(stream.Current()) {
			switch ev.Kind {
			case EventText:
				line := relocate(ev.Text)
				out.WriteString(line)
				if inv.LogSink != nil {
					for _, l := range strings.Split(strings.TrimRight(line, "\n"), "\n") {
						inv.LogSink(l)
					}
				}
			case EventToolCall:
				if inv.LogSink != nil {
					inv.LogSink(fmt.Sprintf("[tool_call] %s %s", ev.ToolName, relocate(ev.ToolArgs)))
				}
			case EventError:
				exitCode = usageLimitOrError(ev.Err)
				finalize(exitCode)
				return driver.Result{Output: out.String(), ExitCode: exitCode}, nil
			case EventResult:
				// handled after the loop via stream.Err()/natural completion
			}
		}
	}

	if err := stream.Err(); err != nil {
		exitCode = usageLimitOrError(err)
		finalize(exitCode)
		return driver.Result{Output: out.String(), ExitCode: exitCode}, nil
	}

	finalize(exitCode)
	return driver.Result{Output: out.String(), ExitCode: exitCode}, nil
}

// usageLimitOrError classifies a streaming error as spec §4.4's usage-limit
// exit code (2) when the SDK reports rate limiting, or a generic error
// otherwise.
func usageLimitOrError(err error) int {
	if err == nil {
		return 0
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") ||
		strings.Contains(strings.ToLower(err.Error()), "overloaded") {
		return driver.ExitUsageLimit
	}
	return 1
}

// translate reduces one native SDK stream event to zero or more typed
// Events, mirroring NeboLoop's handleStream switch.
func translate(event anthropic.MessageStreamEventUnion) []Event {
	switch event.Type {
	case "content_block_start":
		cb := event.AsContentBlockStart()
		if toolUse, ok := cb.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			return []Event{{Kind: EventToolCall, ToolName: toolUse.Name, ToolArgs: string(toolUse.Input)}}
		}
	case "content_block_delta":
		delta := event.AsContentBlockDelta()
		if td, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
			return []Event{{Kind: EventText, Text: td.Text}}
		}
	case "message_stop":
		return []Event{{Kind: EventResult}}
	case "error":
		return []Event{{Kind: EventError, Err: fmt.Errorf("stream error: %s", event.RawJSON())}}
	}
	return nil
}

func sandboxRelativizer(sandboxPath string) func(string) string {
	prefix := sandboxPath + "/"
	return func(line string) string {
		return strings.ReplaceAll(line, prefix, "")
	}
}
