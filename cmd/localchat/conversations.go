package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/service"
)

func newConversationsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.load(true)
		},
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				convs, total, err := a.store.ListConversations(ctx, limit, offset)
				if err != nil {
					return err
				}
				return printConversations(cmd.OutOrStdout(), convs, total)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of conversations")
	list.Flags().IntVar(&offset, "offset", 0, "number of conversations to skip")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the active path of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				conv, err := a.store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				msgs, err := a.store.ResolveTranscript(ctx, conv.ID)
				if err != nil {
					return err
				}
				printTranscript(cmd.OutOrStdout(), conv, msgs)
				return nil
			})
		},
	}

	rename := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				convs := service.NewConversationService(a.store, a.coord, a.log)
				conv, err := convs.Rename(ctx, args[0], &model.UpdateConversationRequest{Title: strings.Join(args[1:], " ")})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), conv.Title)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and all of its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return a.coord.Delete(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(list, show, rename, del)
	return cmd
}

func withApp(ctx context.Context, opts *rootOptions, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.close(closeCtx)
	}()
	return fn(ctx, a)
}

func printConversations(w io.Writer, convs []model.Conversation, total int64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTARTED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Title, c.StartDate.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if int64(len(convs)) < total {
		fmt.Fprintf(w, "(%d of %d)\n", len(convs), total)
	}
	return nil
}

func printTranscript(w io.Writer, conv *model.Conversation, msgs []model.Message) {
	fmt.Fprintf(w, "# %s\n", conv.Title)
	for _, m := range msgs {
		fmt.Fprintf(w, "\n[%s] %s\n", m.Role, m.Date.Local().Format(time.DateTime))
		for _, f := range m.Files {
			fmt.Fprintf(w, "  attached: %s\n", f.Name)
		}
		fmt.Fprintln(w, m.Content)
	}
}
