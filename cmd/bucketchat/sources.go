package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bucketchat/internal/sources"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Add sources to a bucket and track their processing",
}

var sourcesStatusCmd = &cobra.Command{
	Use:   "status <bucket>...",
	Short: "Show processing progress of one or more buckets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		return withApp(true, func(a *app) error {
			if watch {
				return watchBuckets(cmd, a, args)
			}

			snaps := make([]sources.Snapshot, len(args))
			g, gctx := errgroup.WithContext(cmd.Context())
			for i, id := range args {
				g.Go(func() error {
					snap, err := a.sources.Status(gctx, id)
					if err != nil {
						return err
					}
					snaps[i] = snap
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for i, id := range args {
				printSnapshot(cmd.OutOrStdout(), id, snaps[i])
			}
			return nil
		})
	},
}

// watchBuckets follows every bucket through one shared hub until all of them
// settle or the command is interrupted.
func watchBuckets(cmd *cobra.Command, a *app, bucketIDs []string) error {
	hub := sources.NewHub(a.poller)
	defer hub.Close()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	subs := make([]*sources.HubSubscription, 0, len(bucketIDs))
	for _, id := range bucketIDs {
		subs = append(subs, hub.Subscribe(id, func(snap sources.Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			printSnapshot(out, id, snap)
		}))
	}

	for i, sub := range subs {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-sub.Done():
		}
		res, err := sub.Result()
		if err != nil {
			return fmt.Errorf("watching %s: %w", bucketIDs[i], err)
		}
		reportSettled(bucketIDs[i], res)
	}
	return nil
}

func reportSettled(bucketID string, res sources.Result) {
	switch res.Reason {
	case sources.FullyProcessed:
		printSuccess("%s is ready", bucketID)
	case sources.PartiallyReady:
		printSuccess("%s is ready to chat; %d source(s) still processing", bucketID, res.Snapshot.Counts.Pending+res.Snapshot.Counts.Processing)
	case sources.PollLimit:
		printWarning("%s did not finish processing after %d checks", bucketID, res.Polls)
	}
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <bucket>",
	Short: "Submit a URL, text or file to a bucket",
	Long: `Submit content to a bucket. URLs are routed by platform: YouTube links
as videos, Twitter/X links as social posts, everything else as web pages.
Files (.pdf, .html, .txt, .md) are converted to text locally.

Examples:
  bucketchat sources add my-bucket --url https://youtu.be/dQw4w9WgXcQ
  bucketchat sources add my-bucket --text "Meeting notes..."
  bucketchat sources add my-bucket --file ./paper.pdf --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketID := args[0]
		rawURL, _ := cmd.Flags().GetString("url")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		wait, _ := cmd.Flags().GetBool("wait")

		if rawURL == "" && text == "" && file == "" {
			return fmt.Errorf("one of --url, --text, or --file is required")
		}
		if file != "" {
			extracted, err := sources.ExtractText(file)
			if err != nil {
				return err
			}
			text = extracted
		}

		return withApp(true, func(a *app) error {
			var (
				kind = sources.KindText
				res  sources.SubmitResult
				err  error
			)
			if rawURL != "" {
				kind, res, err = a.sources.Submit(cmd.Context(), bucketID, rawURL)
			} else {
				res, err = a.sources.SubmitText(cmd.Context(), bucketID, text)
			}
			if err != nil {
				return err
			}

			label := rawURL
			if file != "" {
				label = filepath.Base(file)
			}
			if label == "" {
				label = fmt.Sprintf("%d characters of text", len([]rune(text)))
			}
			printSuccess("Submitted %s as %s source %s (%s)", label, kind, res.SourceID, res.Status)

			if !wait {
				return nil
			}
			return waitForBucket(cmd, a, bucketID, cmd.OutOrStdout())
		})
	},
}

func waitForBucket(cmd *cobra.Command, a *app, bucketID string, out io.Writer) error {
	sub := a.poller.Subscribe(cmd.Context(), bucketID, func(snap sources.Snapshot) {
		printSnapshot(out, bucketID, snap)
	})
	defer sub.Stop()

	<-sub.Done()
	res, err := sub.Result()
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", bucketID, err)
	}
	reportSettled(bucketID, res)
	return nil
}

func init() {
	sourcesStatusCmd.Flags().Bool("watch", false, "poll until processing settles")
	sourcesAddCmd.Flags().String("url", "", "web page, YouTube or Twitter/X URL")
	sourcesAddCmd.Flags().String("text", "", "plain text to ingest")
	sourcesAddCmd.Flags().String("file", "", "local .pdf, .html or text file to ingest")
	sourcesAddCmd.Flags().Bool("wait", false, "poll until processing settles")

	sourcesCmd.AddCommand(sourcesStatusCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
}
