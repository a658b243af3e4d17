// Command enginectl is a small administrative CLI over the embedded
// storage engine: put/get/delete a single key per invocation, thread a
// multi-statement transaction across repeated invocations via begin/--tx/
// commit, or run a scripted demo sequence. It is the "command-line test
// harness" collaborator named out of scope by the storage core spec — a
// thin shell, not part of the specified core.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodevein/ledgerkv/engine"
	"github.com/nodevein/ledgerkv/engineconfig"
	"github.com/nodevein/ledgerkv/index"
)

var (
	configFile string
	walPath    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "enginectl",
		Short: "Administer a ledgerkv storage engine instance",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (TOML/YAML/JSON)")
	root.PersistentFlags().StringVar(&walPath, "wal", "", "override the WAL path from config")

	root.AddCommand(
		newPutCmd(), newGetCmd(), newDeleteCmd(), newReplayCmd(), newDemoCmd(),
		newBeginCmd(), newCommitCmd(),
	)
	return root
}

func openEngine() (*engine.Engine, error) {
	cfg, err := engineconfig.Load(configFile)
	if err != nil {
		return nil, err
	}
	if walPath != "" {
		cfg.WALPath = walPath
	}
	logger := logrus.New()
	fsyncOnCommit := cfg.FsyncOnCommit
	return engine.Open(cfg.WALPath, engine.Options{
		Logger:        logger,
		FsyncOnCommit: &fsyncOnCommit,
	})
}

func newPutCmd() *cobra.Command {
	var txid uint64
	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Put a key, in its own transaction or one started with begin --tx",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if txid != 0 {
				if err := e.Put(txid, []byte(args[0]), []byte(args[1])); err != nil {
					return err
				}
				fmt.Printf("queued txid=%d (not yet committed)\n", txid)
				return nil
			}

			tx, err := e.Begin()
			if err != nil {
				return err
			}
			if err := tx.Put([]byte(args[0]), []byte(args[1])); err != nil {
				_ = tx.Abort()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			fmt.Printf("OK txid=%d\n", tx.Txid())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&txid, "tx", 0, "append to the transaction started by a prior begin, instead of committing immediately")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var txid uint64
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key, in its own transaction or one started with begin --tx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if txid != 0 {
				if err := e.Delete(txid, []byte(args[0])); err != nil {
					return err
				}
				fmt.Printf("queued txid=%d (not yet committed)\n", txid)
				return nil
			}

			tx, err := e.Begin()
			if err != nil {
				return err
			}
			if err := tx.Delete([]byte(args[0])); err != nil {
				_ = tx.Abort()
				return err
			}
			return tx.Commit()
		},
	}
	cmd.Flags().Uint64Var(&txid, "tx", 0, "append to the transaction started by a prior begin, instead of committing immediately")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read the latest committed value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			v, err := e.Read([]byte(args[0]))
			if err != nil {
				if err == index.ErrNotFound {
					fmt.Println("(not found)")
					return nil
				}
				return err
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Force a replay pass over the WAL and report when it completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			fmt.Println("replay complete")
			return nil
		},
	}
}

// newBeginCmd starts a transaction that spans multiple enginectl
// invocations: the printed txid is passed to put/delete via --tx and
// finalized with commit --tx.
func newBeginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "begin",
		Short: "Start a transaction and print its txid for use with put/delete/commit --tx",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			txid, err := e.BeginTx()
			if err != nil {
				return err
			}
			fmt.Printf("txid=%d\n", txid)
			return nil
		},
	}
}

// newCommitCmd finalizes a transaction started by begin, once all of its
// put/delete --tx invocations have appended their records.
func newCommitCmd() *cobra.Command {
	var txid uint64
	cmd := &cobra.Command{
		Use:   "commit --tx <txid>",
		Short: "Commit the transaction started by a prior begin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if txid == 0 {
				return fmt.Errorf("enginectl: commit requires --tx <txid> from a prior begin")
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.CommitTx(txid); err != nil {
				return err
			}
			fmt.Printf("OK txid=%d\n", txid)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&txid, "tx", 0, "txid returned by a prior begin")
	return cmd
}

// newDemoCmd reproduces, against the local engine instead of a network
// service, the scripted MultiPut-then-MultiGet sequence the teacher's
// gRPC client demo drove against a remote storage server.
func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted put/get sequence against a fresh engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Println("=== put ===")
			tx, err := e.Begin()
			if err != nil {
				return err
			}
			kvs := map[string]string{"k1": "v1", "k2": "v2", "k3": "v3"}
			for k, v := range kvs {
				if err := tx.Put([]byte(k), []byte(v)); err != nil {
					_ = tx.Abort()
					return err
				}
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			fmt.Println("put OK")

			fmt.Println("=== get ===")
			for _, k := range []string{"k1", "k2", "k3", "k-not-exist"} {
				v, err := e.Read([]byte(k))
				if err == index.ErrNotFound {
					fmt.Printf("key=%s, (not found)\n", k)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, value=%s\n", k, v)
			}
			return nil
		},
	}
}
