package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nexusfleet/nexuscore/internal/cli/output"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rebuild", Short: "Start, stop or list snapshot rebuilds"}
	cmd.AddCommand(newCreateRebuildCmd(), newDestroyRebuildCmd(), newListRebuildCmd())
	return cmd
}

func newCreateRebuildCmd() *cobra.Command {
	var node, endpoint, uuid, snapshotURI, replicaURI, errorPolicy string
	var resume bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a snapshot-sourced rebuild for a nexus child",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			resp, err := s.service.CreateSnapshotRebuild(context.Background(), ids.NodeId(node), &transport.CreateSnapshotRebuildRequest{
				UUID: uuid, SnapshotURI: snapshotURI, ReplicaURI: replicaURI, Resume: resume, ErrorPolicy: errorPolicy,
			})
			if err != nil {
				return fmt.Errorf("start rebuild: %w", err)
			}
			fmt.Printf("rebuild for nexus %s started, state=%s\n", resp.UUID, resp.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	cmd.Flags().StringVar(&snapshotURI, "snapshot", "", "source snapshot URI")
	cmd.Flags().StringVar(&replicaURI, "replica", "", "destination replica URI")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume flag sent to the node agent, which only logs it; no earlier rebuild progress is resumed")
	cmd.Flags().StringVar(&errorPolicy, "on-error", "", "error policy (fail or retry), validated but not acted on by the node agent")
	for _, f := range []string{"node", "endpoint", "uuid", "snapshot", "replica"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newDestroyRebuildCmd() *cobra.Command {
	var node, endpoint, uuid string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate a running rebuild",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			if err := s.service.DestroySnapshotRebuild(context.Background(), ids.NodeId(node), &transport.DestroySnapshotRebuildRequest{UUID: uuid}); err != nil {
				return fmt.Errorf("stop rebuild: %w", err)
			}
			fmt.Printf("rebuild for nexus %s stopped\n", uuid)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	for _, f := range []string{"node", "endpoint", "uuid"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newListRebuildCmd() *cobra.Command {
	var node, endpoint, uuid string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List active snapshot rebuilds for a node, optionally filtered to one nexus",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			rebuilds, err := s.service.ListSnapshotRebuild(context.Background(), ids.NodeId(node), &transport.ListSnapshotRebuildRequest{UUID: uuid})
			if err != nil {
				return fmt.Errorf("list rebuilds: %w", err)
			}
			t := output.NewTableData("NEXUS", "STATE", "BLOCKS TOTAL", "BLOCKS DONE")
			for _, r := range rebuilds {
				t.AddRow(r.UUID, r.State, strconv.FormatUint(r.BlocksTotal, 10), strconv.FormatUint(r.BlocksTransferred, 10))
			}
			output.PrintTable(os.Stdout, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID (optional, all nexuses if omitted)")
	cmd.MarkFlagRequired("node")
	cmd.MarkFlagRequired("endpoint")
	return cmd
}
