package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/e6grab/e6grab/internal/utils"
	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/download"
	"github.com/e6grab/e6grab/pkg/index"
	"github.com/e6grab/e6grab/pkg/queue"
	"github.com/e6grab/e6grab/pkg/request"
	"github.com/e6grab/e6grab/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// grabCmd implements: e6grab grab
//
//	--in string          Request file (default ./inputFiles.json)
//	--out string         Destination folder (default ./e621)
//	--relatives          Also download parents and children of requested posts
//	--force-check        Ignore what is already on disk
//	--search-limit int   Results per search when the request does not set one
//	--page-limit int     Posts per API page
//	--concurrency int    Parallel downloads
//	--db                 Record the run in the history database
var grabCmd = &cobra.Command{
	Use:   "grab",
	Short: "Download everything listed in the request file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'e6grab grab --help'", args[0])
		}

		inFile, _ := cmd.Flags().GetString("in")
		outDir, _ := cmd.Flags().GetString("out")
		relatives, _ := cmd.Flags().GetBool("relatives")
		forceCheck, _ := cmd.Flags().GetBool("force-check")
		useDB, _ := cmd.Flags().GetBool("db")
		dbPath, _ := cmd.Flags().GetString("dbpath")

		req, err := request.Load(inFile)
		if err != nil {
			return err
		}
		if req.Empty() {
			utils.Log.Infof("Nothing to grab: %s lists no pools, posts, searches or favorites.", inFile)
			return nil
		}

		searchLimit := viper.GetInt("search_limit")
		if searchLimit < catalog.Unbounded {
			return fmt.Errorf("invalid search limit %d: use -1 for every result or a positive number", searchLimit)
		}

		root, err := filepath.Abs(outDir)
		if err != nil {
			return err
		}

		client, err := newCatalogClient(cmd)
		if err != nil {
			return err
		}

		utils.Log.Infof("Indexing %s", root)
		idx, err := index.Build(root)
		if err != nil {
			return fmt.Errorf("could not index %s: %w", root, err)
		}
		utils.Log.Debugf("Found %d post%s on disk", idx.Len(), utils.Plural(idx.Len()))

		ctx := cmd.Context()
		builder := queue.NewBuilder(client, queue.Options{
			Root:               root,
			Expand:             relatives,
			ForceRecheck:       forceCheck,
			Blacklist:          catalog.NewBlacklist(viper.GetStringSlice("blacklist")),
			DefaultSearchLimit: searchLimit,
		}, utils.Log)

		entries, _, err := builder.Build(ctx, req, idx)
		if err != nil {
			return err
		}

		var history *historyRecorder
		if useDB {
			history, err = openHistory(ctx, dbPath, root)
			if err != nil {
				return err
			}
			defer history.Close()
		}

		executor := &download.Executor{
			Client:  client,
			Workers: viper.GetInt("concurrency"),
			Log:     utils.Log,
		}
		if history != nil {
			executor.OnResult = history.Record
		}

		utils.Log.Infof("Downloading %d post%s...", len(entries), utils.Plural(len(entries)))
		summary := executor.Execute(ctx, entries)

		fmt.Printf("Downloaded %d post%s (%s) in %d requests.\n",
			summary.Downloaded, utils.Plural(summary.Downloaded), humanize.Bytes(uint64(summary.Bytes)), summary.Requests)
		if summary.Skipped > 0 || summary.Failed > 0 {
			fmt.Printf("Skipped %d already present, %d failed.\n", summary.Skipped, summary.Failed)
		}

		if history != nil {
			history.Finish(summary)
		}
		return ctx.Err()
	},
}

func init() {
	rootCmd.AddCommand(grabCmd)

	grabCmd.Flags().StringP("in", "i", request.DefaultFile, "Request file (JSON, YAML, or the legacy sectioned .txt format)")
	grabCmd.Flags().StringP("out", "o", "e621", "Destination folder")
	grabCmd.Flags().BoolP("relatives", "r", false, "Also download parents and children of requested posts (slow)")
	grabCmd.Flags().Bool("force-check", false, "Re-check every post instead of trusting what is on disk")
	grabCmd.Flags().Int("search-limit", queue.DefaultSearchLimit, "Posts per search when the request file sets no limit (-1 for all)")
	grabCmd.Flags().Int("page-limit", 320, "Posts per API page")
	grabCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent downloads")
	grabCmd.Flags().Bool("db", false, "Record the run in the history database")
	grabCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/e6grab/history.sqlite)")

	viper.BindPFlag("search_limit", grabCmd.Flags().Lookup("search-limit"))
	viper.BindPFlag("page_size", grabCmd.Flags().Lookup("page-limit"))
	viper.BindPFlag("concurrency", grabCmd.Flags().Lookup("concurrency"))
}

// historyRecorder writes one run and its downloads to the history database
// while holding the database lock.
type historyRecorder struct {
	db   *storage.DB
	lock *utils.DBLock
	run  storage.Run
}

func openHistory(ctx context.Context, dbPath, root string) (*historyRecorder, error) {
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}
	lock, err := utils.NewDBLock(absPath)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}

	db, err := storage.Open(absPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	run, err := db.StartRun(ctx, root)
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}
	utils.Log.Debugf("Recording run %s in %s", run.ID, absPath)
	return &historyRecorder{db: db, lock: lock, run: run}, nil
}

// Record is called from the download workers.
func (h *historyRecorder) Record(res download.Result) {
	dl := storage.Download{
		RunID:  h.run.ID,
		ItemID: res.Entry.Item.ID,
		Path:   res.Entry.Path,
		Status: res.Status.String(),
		Bytes:  res.Bytes,
	}
	if res.Err != nil {
		dl.Error = res.Err.Error()
	}
	// The run is recorded even when interrupted.
	if err := h.db.RecordDownload(context.Background(), dl); err != nil {
		utils.Log.Warnf("Could not record post %d in history: %v", dl.ItemID, err)
	}
}

func (h *historyRecorder) Finish(summary download.Summary) {
	h.run.Queued = summary.Queued
	h.run.Downloaded = summary.Downloaded
	h.run.Skipped = summary.Skipped
	h.run.Failed = summary.Failed
	h.run.Requests = summary.Requests
	h.run.Bytes = summary.Bytes
	if err := h.db.FinishRun(context.Background(), h.run); err != nil {
		utils.Log.Warnf("Could not finish run %s in history: %v", h.run.ID, err)
	}
}

func (h *historyRecorder) Close() {
	if err := h.db.Close(); err != nil {
		utils.Log.Warnf("Could not close history database: %v", err)
	}
	if err := h.lock.Unlock(); err != nil {
		utils.Log.Warnf("%v", err)
	}
}
