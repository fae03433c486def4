package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/memvect/memvect/pkg/core"
	"github.com/memvect/memvect/pkg/extract"
	"github.com/memvect/memvect/pkg/memory"
	"github.com/memvect/memvect/pkg/memvect"
)

var (
	basePath   string
	dimensions int
	owner      string
	useHNSW    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "memvect",
	Short: "Durable memory store for AI agents",
	Long:  `A command-line interface for storing, searching, and assembling agent memories.`,
}

// openDB builds the configuration from the global flags and opens the store.
func openDB(ctx context.Context) (*memvect.DB, error) {
	cfg := core.DefaultConfig()
	if basePath != "" {
		cfg.BasePath = basePath
	}
	if dimensions > 0 {
		cfg.EmbeddingDim = dimensions
	}
	if useHNSW {
		cfg.IndexType = core.IndexTypeHNSW
	}

	opts := []memvect.Option{
		memvect.WithExtractor(extract.NewRuleBasedExtractor()),
	}
	if verbose {
		opts = append(opts, memvect.WithLogger(core.NewStdLogger(core.LevelDebug)))
	}

	db, err := memvect.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return db, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		cfg := db.Config()
		fmt.Printf("Memory store initialized at %s (dim %d)\n", cfg.BasePath, cfg.EmbeddingDim)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		importance, _ := cmd.Flags().GetFloat64("importance")
		session, _ := cmd.Flags().GetString("session")
		noMerge, _ := cmd.Flags().GetBool("no-merge")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		var metadata map[string]string
		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
				return fmt.Errorf("invalid metadata JSON: %w", err)
			}
		}

		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := db.Memories().Add(ctx, memory.AddInput{
			Content:      args[0],
			Category:     category,
			Importance:   importance,
			Owner:        owner,
			Session:      session,
			Metadata:     metadata,
			MergeSimilar: !noMerge,
		})
		if err != nil {
			return fmt.Errorf("failed to add memory: %w", err)
		}

		fmt.Printf("Memory %s added (category %s, importance %.2f)\n", m.ID, m.Category, m.Importance)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		category, _ := cmd.Flags().GetString("category")
		keywordOnly, _ := cmd.Flags().GetBool("keyword")
		outputJSON, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := db.Memories().Search(ctx, memory.SearchInput{
			Query:     args[0],
			Owner:     owner,
			Category:  category,
			Limit:     limit,
			Semantic:  !keywordOnly,
			Threshold: threshold,
		})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if outputJSON {
			data, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(results) == 0 {
			fmt.Println("No memories found")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s  [%s] %.3f  %s\n", r.ID, r.Category, r.Score, r.Content)
		}
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Assemble a context block for a prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		categoriesStr, _ := cmd.Flags().GetString("categories")

		var categories []string
		if categoriesStr != "" {
			categories = strings.Split(categoriesStr, ",")
		}

		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		block, err := db.Memories().Context(ctx, memory.ContextInput{
			Owner:      owner,
			Session:    session,
			MaxTokens:  maxTokens,
			Categories: categories,
		})
		if err != nil {
			return fmt.Errorf("context assembly failed: %w", err)
		}

		if block == "" {
			fmt.Println("No memories fit the budget")
			return nil
		}
		fmt.Println(block)
		return nil
	},
}

var rememberCmd = &cobra.Command{
	Use:   "remember",
	Short: "Extract memories from a conversation read as JSON on stdin",
	Long: `Reads a JSON array of {"role": "...", "content": "..."} messages from
standard input, extracts memory candidates, and stores the ones that pass
the configured thresholds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		if session == "" {
			session = uuid.NewString()
		}

		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}

		var messages []extract.Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return fmt.Errorf("invalid conversation JSON: %w", err)
		}

		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stored, err := db.Memories().Remember(ctx, owner, "", session, messages)
		if err != nil {
			return fmt.Errorf("remember failed: %w", err)
		}

		fmt.Printf("Stored %d memories from %d messages (session %s)\n", len(stored), len(messages), session)
		for _, m := range stored {
			fmt.Printf("  %s  [%s] %s\n", m.ID, m.Category, m.Content)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a memory by id, or by filter flags",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		session, _ := cmd.Flags().GetString("session")

		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 1 {
			removed, err := db.Memories().Delete(ctx, args[0])
			if err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Printf("Removed %d memory\n", removed)
			return nil
		}

		removed, err := db.Memories().DeleteWhere(ctx, core.Filter{
			Owner:    owner,
			Category: category,
			Session:  session,
		})
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Printf("Removed %d memories\n", removed)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&basePath, "path", "p", "", "Base directory for durable state (default ~/.memvect)")
	rootCmd.PersistentFlags().IntVarP(&dimensions, "dim", "n", 0, "Embedding dimension (default 384)")
	rootCmd.PersistentFlags().StringVarP(&owner, "owner", "o", "", "Owner id to scope operations to")
	rootCmd.PersistentFlags().BoolVar(&useHNSW, "hnsw", false, "Use the approximate HNSW index")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	addCmd.Flags().String("category", "", "Memory category (preference, fact, task, general)")
	addCmd.Flags().Float64("importance", 0, "Importance score in [0, 1]")
	addCmd.Flags().String("session", "", "Session id")
	addCmd.Flags().Bool("no-merge", false, "Always create a new memory instead of merging")
	addCmd.Flags().String("metadata", "", "Metadata as a JSON object of strings")

	searchCmd.Flags().Int("limit", 10, "Maximum results")
	searchCmd.Flags().Float64("threshold", 0.7, "Minimum similarity for semantic hits")
	searchCmd.Flags().String("category", "", "Restrict to a category")
	searchCmd.Flags().Bool("keyword", false, "Skip the semantic path")
	searchCmd.Flags().Bool("json", false, "Output as JSON")

	contextCmd.Flags().String("session", "", "Session id")
	contextCmd.Flags().Int("max-tokens", 500, "Token budget for the context block")
	contextCmd.Flags().String("categories", "", "Comma-separated category filter")

	rememberCmd.Flags().String("session", "", "Session id (default: a fresh one)")

	deleteCmd.Flags().String("category", "", "Delete all memories in a category")
	deleteCmd.Flags().String("session", "", "Delete all memories in a session")

	rootCmd.AddCommand(initCmd, addCmd, searchCmd, contextCmd, rememberCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
