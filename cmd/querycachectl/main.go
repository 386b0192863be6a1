// Command querycachectl is a small operator CLI over the Client Facade,
// the same relationship the teacher's cmd/dns-cli has to its dns/
// package: it exercises the library from outside, not part of it.
//
// It fetches a query from a JSON fixture file, prints the resulting
// cache state, and dehydrates/hydrates cache snapshots to and from
// disk, useful for manually walking through the persistence flow.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/asyncquery/querycache"
	"github.com/asyncquery/querycache/hydrate"
	"github.com/asyncquery/querycache/query"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rc := &cobra.Command{
		Use:   "querycachectl",
		Short: "Inspect and drive an asyncquery/querycache Client from the command line",
	}
	rc.AddCommand(newPrefetchCommand())
	rc.AddCommand(newHydrateCommand())
	return rc
}

// fixture is the on-disk shape a "prefetch" command reads: a query key
// plus the canned value the fetcher should resolve with.
type fixture struct {
	Key  any `json:"key"`
	Data any `json:"data"`
}

func newPrefetchCommand() *cobra.Command {
	var fixturePath, dehydrateOut string

	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Prefetch a query from a JSON fixture and print its resulting state",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(fixturePath)
			if err != nil {
				return fmt.Errorf("reading fixture: %w", err)
			}
			var f fixture
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("parsing fixture: %w", err)
			}

			c := querycache.New()
			_, err = c.FetchQueryData(context.Background(), f.Key, func(ctx query.CancelContext) (any, error) {
				return f.Data, nil
			})
			if err != nil {
				return fmt.Errorf("prefetch failed: %w", err)
			}

			printQueryStates(c.Queries.All())

			if dehydrateOut != "" {
				return writeDehydratedPayload(c.Queries, dehydrateOut)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "path to a JSON file with {\"key\": ..., \"data\": ...}")
	cmd.Flags().StringVar(&dehydrateOut, "dehydrate-out", "", "if set, dehydrate the resulting cache to this JSON file")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func newHydrateCommand() *cobra.Command {
	var inPath string

	cmd := &cobra.Command{
		Use:   "hydrate",
		Short: "Hydrate a fresh cache from a dehydrated JSON payload and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}
			payload, err := hydrate.DecodeJSON(raw)
			if err != nil {
				return fmt.Errorf("decoding payload: %w", err)
			}

			c := querycache.New()
			hydrate.Hydrate(c.Queries, payload, hydrate.HydrateOptions{})
			printQueryStates(c.Queries.All())
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "path to a dehydrated JSON payload")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func writeDehydratedPayload(cache *query.Cache, path string) error {
	payload := hydrate.Dehydrate(cache, hydrate.DehydrateOptions{})
	data, err := hydrate.EncodeJSON(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}
