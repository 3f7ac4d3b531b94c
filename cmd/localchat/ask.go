package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/localchat/internal/coordinator"
	"github.com/capitalize-ai/localchat/internal/model"
)

type askOptions struct {
	conversationID string
	model          string
	files          []string
	showThinking   bool
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	ask := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [flags] <message>",
		Short: "Send a message and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			return runAsk(cmd.Context(), opts, ask, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&ask.conversationID, "conversation", "c", "", "continue an existing conversation")
	cmd.Flags().StringVarP(&ask.model, "model", "m", "", "model to answer with (default $DEFAULT_MODEL)")
	cmd.Flags().StringArrayVarP(&ask.files, "file", "f", nil, "attach a text file (repeatable)")
	cmd.Flags().BoolVar(&ask.showThinking, "show-thinking", false, "print reasoning to stderr")
	return cmd
}

func readFiles(paths []string) ([]model.File, error) {
	files := make([]model.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, model.File{
			Name:    filepath.Base(p),
			Type:    "text/plain",
			Content: string(data),
		})
	}
	return files, nil
}

func runAsk(parent context.Context, opts *rootOptions, ask *askOptions, text string, stdout, stderr io.Writer) error {
	files, err := readFiles(ask.files)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(opts.cfg, opts.log)
	if err != nil {
		return err
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = a.coord.Run(runCtx)
	}()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.coord.Close(closeCtx)
		stopRun()
		<-runDone
		_ = a.close(closeCtx)
	}()

	// The conversation must be in view before the session starts, so it is
	// created up front rather than by Submit.
	convID := ask.conversationID
	created := false
	if convID == "" {
		conv, err := a.store.CreateConversation(ctx)
		if err != nil {
			return err
		}
		convID, created = conv.ID, true
	}

	updates, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()

	if _, err := a.coord.View(ctx, convID); err != nil {
		return err
	}

	res, err := a.coord.Submit(ctx, convID, model.NewUserContent(text, files), ask.model)
	if err != nil {
		return err
	}
	if !res.Started {
		return errors.New("an answer is already streaming for this conversation")
	}

	p := &answerPrinter{out: stdout, errOut: stderr, showThinking: ask.showThinking}
	if err := p.stream(ctx, a.coord, updates, convID); err != nil {
		return err
	}

	if created {
		waitTitle(updates, convID, opts.cfg.TitleTimeout+time.Second)
	}
	fmt.Fprintf(stderr, "conversation %s\n", convID)
	return nil
}

// answerPrinter writes the growing answer as deltas. Partial events carry the
// whole answer so far.
type answerPrinter struct {
	out          io.Writer
	errOut       io.Writer
	showThinking bool

	content  string
	thinking string
}

func (p *answerPrinter) stream(ctx context.Context, coord *coordinator.Coordinator, updates <-chan coordinator.Update, convID string) error {
	aborting := false
	for {
		select {
		case <-ctx.Done():
			if !aborting {
				aborting = true
				coord.Abort(convID)
			}
			// Keep draining until the completed event arrives.
			ctx = context.Background()
		case u, ok := <-updates:
			if !ok {
				return errors.New("update stream closed")
			}
			if u.Event.ConversationID != convID {
				continue
			}
			switch u.Event.Type {
			case model.EventTypePartial:
				p.write(u.Event.Content, u.Event.Thinking)
			case model.EventTypeCompleted:
				p.write(u.Event.Content, u.Event.Thinking)
				fmt.Fprintln(p.out)
				if u.Event.Aborted {
					fmt.Fprintln(p.errOut, "(aborted)")
				}
				if u.Event.Error != "" {
					return errors.New(u.Event.Error)
				}
				return nil
			}
		}
	}
}

func (p *answerPrinter) write(content, thinking string) {
	if p.showThinking && thinking != p.thinking {
		fmt.Fprint(p.errOut, delta(p.thinking, thinking))
		p.thinking = thinking
	}
	if content != p.content {
		fmt.Fprint(p.out, delta(p.content, content))
		p.content = content
	}
}

// delta returns what next adds to prev. When next does not extend prev the
// whole of next is returned on a fresh line.
func delta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return "\n" + next
}

func waitTitle(updates <-chan coordinator.Update, convID string, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Event.Type == model.EventTypeTitle && u.Event.ConversationID == convID {
				return
			}
		case <-timer.C:
			return
		}
	}
}
