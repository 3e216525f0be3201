package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/access"
	"github.com/ouisync/ouisync/pkg/config"
	"github.com/ouisync/ouisync/pkg/log"
	"github.com/ouisync/ouisync/pkg/objects"
	"github.com/ouisync/ouisync/pkg/repository"
	"github.com/ouisync/ouisync/pkg/session"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ouisync",
	Short: "Ouisync - peer-to-peer end-to-end encrypted file synchronization",
	Long: `Ouisync replicates directories across peers without a central
server, reconciling concurrent edits with per-branch version vectors
instead of requiring a single writer.

This binary is a local operator tool exercising the repository façade
directly; it is not the binding layer other processes are expected to
embed.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ouisync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("store-dir", defaultStoreDir(), "Directory holding repository storage")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir + "/ouisync"
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func parseToken(tokenArg string) (access.Token, error) {
	if strings.HasPrefix(tokenArg, "https://") {
		return access.DecodeURL(tokenArg, "")
	}
	data, err := hex.DecodeString(tokenArg)
	if err != nil {
		return access.Token{}, fmt.Errorf("invalid token: %w", err)
	}
	return access.Decode(data, "")
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// openRepo starts a session scoped to this single invocation and opens
// the repository tokenArg names under it. The returned cleanup tears the
// whole session down again; a one-shot CLI command has no use for the
// process-wide registry outliving the command itself.
func openRepo(cmd *cobra.Command, tokenArg string) (*repository.Repository, func(), error) {
	token, err := parseToken(tokenArg)
	if err != nil {
		return nil, nil, err
	}

	storeDir, _ := cmd.Flags().GetString("store-dir")
	opts := config.Default()
	opts.StoreDir = storeDir

	s, err := session.Init(opts)
	if err != nil {
		return nil, nil, err
	}

	repo, err := s.Open(token.Repository, token.Secrets())
	if err != nil {
		session.Shutdown()
		return nil, nil, err
	}

	return repo, func() { session.Shutdown() }, nil
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new repository and print its share token",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeDir, _ := cmd.Flags().GetString("store-dir")
		opts := config.Default()
		opts.StoreDir = storeDir

		s, err := session.Init(opts)
		if err != nil {
			return err
		}
		defer session.Shutdown()

		writeKey, err := crypto.NewSecretKey()
		if err != nil {
			return err
		}
		secrets := access.WriteSecrets(writeKey)

		id, err := s.Create(secrets)
		if err != nil {
			return err
		}

		token := access.NewWriteToken(id, writeKey)
		link, err := token.EncodeURL("")
		if err != nil {
			return err
		}
		fmt.Printf("repository: %s\n", id.String())
		fmt.Printf("token: %s\n", link)
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <token> <read|write|blind>",
	Short: "Derive a share token with reduced access from an existing one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := parseToken(args[0])
		if err != nil {
			return err
		}

		var mode access.Mode
		switch args[1] {
		case "write":
			mode = access.Write
		case "read":
			mode = access.Read
		case "blind":
			mode = access.Blind
		default:
			return fmt.Errorf("unknown mode %q", args[1])
		}

		derived, err := token.Derive(mode)
		if err != nil {
			return err
		}
		link, err := derived.EncodeURL("")
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <token> <path>",
	Short: "Print a file's contents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := openRepo(cmd, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		data, err := repo.ReadFile(splitPath(args[1]), 0, 16*1024*1024)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <token> <path> <data>",
	Short: "Overwrite a file's contents from offset 0, creating it first if needed",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := openRepo(cmd, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		path := splitPath(args[1])
		if err := repo.CreateFile(path); err != nil && !errors.Is(err, repository.ErrEntryExists) {
			return err
		}
		return repo.WriteFile(path, 0, []byte(args[2]))
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <token> [path]",
	Short: "List a directory's live entries",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := openRepo(cmd, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		path := ""
		if len(args) == 2 {
			path = args[1]
		}
		entries, err := repo.ListDirectory(splitPath(path))
		if err != nil {
			return err
		}
		for name, entry := range entries {
			kind := "file"
			if entry.Kind == objects.KindDirectory {
				kind = "dir"
			}
			fmt.Printf("%-4s %s\n", kind, name)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <token> <path>",
	Short: "Remove a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := openRepo(cmd, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		recursive, _ := cmd.Flags().GetBool("recursive")
		return repo.Remove(splitPath(args[1]), recursive)
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "Remove a non-empty directory and its contents")
}

var mvCmd = &cobra.Command{
	Use:   "mv <token> <src> <dst>",
	Short: "Move or rename an entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := openRepo(cmd, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		return repo.MoveEntry(splitPath(args[1]), splitPath(args[2]))
	},
}
