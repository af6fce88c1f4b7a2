package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/onereach/deskshell/pkg/agent"
	"github.com/onereach/deskshell/pkg/exchange"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/speech"
	"github.com/onereach/deskshell/pkg/transcript"
)

func replCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "repl",
		Usage: "Interactive utterance loop against the agent exchange",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			fc, err := cfg.loadFile()
			if err != nil {
				return err
			}
			settings, err := cfg.newSettings()
			if err != nil {
				return err
			}

			stats := agent.NewStats(settings)
			if err := stats.Load(ctx); err != nil {
				return err
			}

			llm := &stubLLM{}
			memory := exchange.NewMemory()
			available := map[string]model.Agent{
				"clock":     &clockAgent{},
				"assistant": &assistantAgent{llm: llm},
				"undo":      exchange.NewUndoAgent(memory),
				"repeat":    exchange.NewRepeatAgent(memory),
			}
			registry := agent.Load(ctx, fc.Agents, available)

			var bidderOpts []exchange.BidderOption
			if d, err := duration(fc.BidTimeout); err != nil {
				return err
			} else if d > 0 {
				bidderOpts = append(bidderOpts, exchange.WithBidTimeout(d))
			}
			bidder, err := exchange.NewBidder(llm, registry, stats, bidderOpts...)
			if err != nil {
				return err
			}

			var queue *speech.Queue
			speechOpts := []speech.Option{}
			if d, err := duration(fc.SpeechTimeout); err != nil {
				return err
			} else if d > 0 {
				speechOpts = append(speechOpts, speech.WithCompletionTimeout(d))
			}
			queue = speech.New(func(ctx context.Context, text string, metadata map[string]string) error {
				fmt.Fprintf(c.Root().Writer, "🔊 %s\n", text)
				go queue.MarkComplete()
				return nil
			}, speechOpts...)
			defer queue.Close()

			var tsOpts []transcript.Option
			if fc.TranscriptCapacity > 0 {
				tsOpts = append(tsOpts, transcript.WithCapacity(fc.TranscriptCapacity))
			}
			ts := transcript.New(tsOpts...)

			exchangeOpts := []exchange.ExchangeOption{exchange.WithSpeech(queue)}
			if d, err := duration(fc.ExecTimeout); err != nil {
				return err
			} else if d > 0 {
				exchangeOpts = append(exchangeOpts, exchange.WithExecTimeout(d))
			}
			x := exchange.New(bidder, registry, stats, ts, memory, exchangeOpts...)

			rl, err := readline.New("you> ")
			if err != nil {
				return goerr.Wrap(err, "failed to open terminal")
			}
			defer rl.Close()

			fmt.Fprintf(c.Root().Writer, "deskshell repl. %d agents loaded. Type 'exit' to quit.\n",
				len(registry.GetAll()))

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) || line == "exit" || line == "quit" {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "read failed")
				}
				if line == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Suffix = " thinking"
				sp.Start()
				result, task := x.HandleUtterance(ctx, line)
				sp.Stop()

				fmt.Fprintf(c.Root().Writer, "[%s] %s\n", task.State, result.Message)
			}

			fmt.Fprintln(c.Root().Writer, "bye")
			return nil
		},
	}
}
