package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dpup/qavault/dashboard"
	"github.com/dpup/qavault/vault"
	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find entries whose question or answer contains the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sh, err := a.shell(ctx)
			if err != nil {
				return err
			}
			entries, err := sh.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.printEntries(entries, "No matching entries")
		},
	}
}

func newRecentCmd(a *app) *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sh, err := a.shell(ctx, dashboard.WithPageSize(pageSize))
			if err != nil {
				return err
			}
			entries, err := sh.Recent(ctx, page)
			if err != nil {
				return err
			}
			return a.printEntries(entries, "No entries yet")
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page to show, starting at 0")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "entries per page")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var entry vault.NewEntry
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a question and its answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sh, err := a.shell(ctx)
			if err != nil {
				return err
			}
			id, err := sh.Submit(ctx, entry)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(map[string]int64{"id": id})
			}
			fmt.Fprintf(a.out, "Added entry #%d\n", id)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&entry.Question, "question", "q", "", "the question")
	flags.StringVarP(&entry.Answer, "answer", "a", "", "the answer")
	flags.Int64SliceVarP(&entry.TagIDs, "tag", "t", nil, "tag id, may be repeated")
	return cmd
}

func newTagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sh, err := a.shell(ctx)
			if err != nil {
				return err
			}
			tags, err := sh.Tags(ctx)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(tags)
			}
			if len(tags) == 0 {
				fmt.Fprintln(a.out, "No tags yet")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE")
			for _, t := range tags {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", t.ID, t.Name, t.Type)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name> <type>",
		Short: "Create a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sh, err := a.shell(ctx)
			if err != nil {
				return err
			}
			tag, err := sh.CreateTag(ctx, vault.NewTag{Name: args[0], Type: args[1]})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(tag)
			}
			fmt.Fprintf(a.out, "Created tag #%d %s (%s)\n", tag.ID, tag.Name, tag.Type)
			return nil
		},
	})
	return cmd
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printEntries(entries []vault.Entry, empty string) error {
	if a.jsonOutput {
		return a.printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, empty)
		return nil
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(a.out)
		}
		fmt.Fprintf(a.out, "#%d %s\n", e.ID, e.Question)
		for _, line := range strings.Split(e.Answer, "\n") {
			fmt.Fprintf(a.out, "    %s\n", line)
		}
		if len(e.Tags) > 0 {
			names := make([]string, len(e.Tags))
			for j, t := range e.Tags {
				names[j] = t.Name
			}
			fmt.Fprintf(a.out, "    [%s]\n", strings.Join(names, ", "))
		}
	}
	return nil
}
