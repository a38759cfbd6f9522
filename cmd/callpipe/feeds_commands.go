package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"callpipe/internal/store"
)

func newFeedsCommand(ctx *commandContext) *cobra.Command {
	feedsCmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage the playlists the collector polls",
	}

	feedsCmd.AddCommand(newFeedsAddCommand(ctx))
	feedsCmd.AddCommand(newFeedsListCommand(ctx))
	feedsCmd.AddCommand(newFeedsSyncCommand(ctx, "enable", true))
	feedsCmd.AddCommand(newFeedsSyncCommand(ctx, "disable", false))

	return feedsCmd
}

func newFeedsAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var paused bool

	cmd := &cobra.Command{
		Use:   "add <playlist-uuid>",
		Short: "Register a playlist for polling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("playlist id must be a UUID: %w", err)
			}
			return ctx.withStore(func(st *store.Store) error {
				feed := &store.Feed{ID: id.String(), Name: name, Sync: !paused}
				if err := st.UpsertFeed(cmd.Context(), feed); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered feed %s\n", feed.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Human-readable feed name")
	cmd.Flags().BoolVar(&paused, "paused", false, "Register without enabling polling")
	return cmd
}

func newFeedsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				feeds, err := st.ListFeeds(cmd.Context(), false)
				if err != nil {
					return err
				}
				if len(feeds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No feeds registered")
					return nil
				}

				rows := make([][]string, 0, len(feeds))
				for _, feed := range feeds {
					sync := "enabled"
					if !feed.Sync {
						sync = "paused"
					}
					rows = append(rows, []string{
						feed.ID,
						feed.Name,
						sync,
						strconv.FormatInt(feed.LastPos, 10),
						feed.UpdatedAt.Format(time.RFC3339),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Playlist", "Name", "Polling", "Cursor", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newFeedsSyncCommand(ctx *commandContext, use string, sync bool) *cobra.Command {
	short := "Resume polling a feed"
	if !sync {
		short = "Pause polling a feed"
	}
	return &cobra.Command{
		Use:   use + " <playlist-uuid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				feed, err := st.GetFeed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				feed.Sync = sync
				if err := st.UpsertFeed(cmd.Context(), feed); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feed %s %sd\n", feed.ID, use)
				return nil
			})
		},
	}
}
