// Command kvcli is a thin example binary over the core package's
// low-level Command engine. It intentionally builds its own request
// fields and operations per call rather than depending on a hidden
// put/get wrapper — that per-operation surface is explicitly out of
// scope for this module (§1) and left to callers.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nativekv/client-go/core"
	"github.com/nativekv/client-go/pkg/config"
)

var (
	hostsFlag string
	logLevel  string
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "Example CLI exercising the client's low-level command engine",
	}
	root.PersistentFlags().StringVar(&hostsFlag, "hosts", "", "comma-separated seed hosts (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level")

	root.AddCommand(getCmd(), putCmd(), nodesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func connectCluster(ctx context.Context) (*core.Cluster, error) {
	policy := core.NewClientPolicy()
	if hostsFlag != "" {
		policy.Hosts = strings.Split(hostsFlag, ",")
	} else if cfg, err := config.LoadFromEnv(); err == nil && len(cfg.ClusterHosts()) > 0 {
		policy.Hosts = cfg.ClusterHosts()
	} else {
		policy.Hosts = []string{"127.0.0.1:3000"}
	}
	return core.NewCluster(ctx, policy, newLogger())
}

func getCmd() *cobra.Command {
	var namespace, set, bins string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a record by user key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			cluster, err := connectCluster(ctx)
			if err != nil {
				return err
			}
			defer cluster.Close()

			key, err := core.NewKey(namespace, set, core.StringValue(args[0]))
			if err != nil {
				return err
			}

			var binNames []string
			if bins != "" {
				binNames = strings.Split(bins, ",")
			}

			record, err := readRecord(ctx, cluster, core.NewReadPolicy(), key, binNames)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generation=%d expiration=%d bins=%v\n", record.Generation, record.Expiration, record.Bins)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "test", "namespace")
	cmd.Flags().StringVar(&set, "set", "", "set name")
	cmd.Flags().StringVar(&bins, "bins", "", "comma-separated bin names (default: all)")
	return cmd
}

// readRecord assembles and executes a raw read Command, the shape every
// higher-level read (single-key, batch, MRT verify) reuses.
func readRecord(ctx context.Context, cluster *core.Cluster, policy *core.ReadPolicy, key *core.Key, binNames []string) (*core.Record, error) {
	var bins map[string]core.Value
	var gen, exp uint32

	cmd := core.NewCommand(cluster, key.Namespace, key.PartitionID(), policy.Replica, false, policy.BasePolicy,
		func(node *core.Node) ([]byte, error) {
			fields := []core.Field{
				{Type: core.FieldNamespace, Payload: []byte(key.Namespace)},
				{Type: core.FieldDigestRipe, Payload: key.Digest[:]},
			}
			var ops []core.Operation
			h := core.MessageHeader{Info1: 1} // read
			if len(binNames) == 0 {
				ops = []core.Operation{{Type: core.OpReadHeader}}
				h.Info1 |= 2 // get all bins
			} else {
				for _, name := range binNames {
					ops = append(ops, core.Operation{Type: core.OpRead, Name: name})
				}
			}
			return core.BuildDataMessage(h, fields, ops)
		},
		func(header core.MessageHeader, fields []core.Field, ops []core.Operation) error {
			bins = make(map[string]core.Value, len(ops))
			for _, op := range ops {
				bins[op.Name] = op.Value
			}
			gen, exp = header.Generation, header.Expiration
			return nil
		},
	)
	if err := cmd.Execute(ctx); err != nil {
		return nil, err
	}
	return &core.Record{Key: key, Bins: bins, Generation: gen, Expiration: exp}, nil
}

func putCmd() *cobra.Command {
	var namespace, set, binName, value string
	cmd := &cobra.Command{
		Use:   "put <key>",
		Short: "Write a single string bin to a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			cluster, err := connectCluster(ctx)
			if err != nil {
				return err
			}
			defer cluster.Close()

			key, err := core.NewKey(namespace, set, core.StringValue(args[0]))
			if err != nil {
				return err
			}
			bin, err := core.NewBin(binName, core.StringValue(value))
			if err != nil {
				return err
			}

			writePolicy := core.NewWritePolicy()
			cmd2 := core.NewCommand(cluster, namespace, key.PartitionID(), core.ReplicaMaster, true, writePolicy.BasePolicy,
				func(node *core.Node) ([]byte, error) {
					fields := []core.Field{
						{Type: core.FieldNamespace, Payload: []byte(namespace)},
						{Type: core.FieldDigestRipe, Payload: key.Digest[:]},
					}
					if set != "" {
						fields = append(fields, core.Field{Type: core.FieldSetName, Payload: []byte(set)})
					}
					ops := []core.Operation{{Type: core.OpWrite, Name: bin.Name, Value: bin.Value}}
					h := core.MessageHeader{Info2: 1, Expiration: writePolicy.Expiration}
					return core.BuildDataMessage(h, fields, ops)
				},
				nil,
			)
			if err := cmd2.Execute(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "test", "namespace")
	cmd.Flags().StringVar(&set, "set", "", "set name")
	cmd.Flags().StringVar(&binName, "bin", "value", "bin name")
	cmd.Flags().StringVar(&value, "value", "", "string value to write")
	return cmd
}

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List currently known cluster nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			cluster, err := connectCluster(ctx)
			if err != nil {
				return err
			}
			defer cluster.Close()
			for _, n := range cluster.Nodes() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tactive=%v\n", n.Name, n.Address, n.IsActive())
			}
			return nil
		},
	}
}
