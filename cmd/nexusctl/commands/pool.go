package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexusfleet/nexuscore/internal/cli/prompt"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pool", Short: "Create or destroy pools"}
	cmd.AddCommand(newCreatePoolCmd(), newDestroyPoolCmd())
	return cmd
}

func newCreatePoolCmd() *cobra.Command {
	var node, name, disks, endpoint string
	var clusterSize uint64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pool on a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			resp, err := s.service.CreatePool(context.Background(), &transport.CreatePoolRequest{
				Node:        ids.NodeId(node),
				Name:        name,
				Disks:       splitCSV(disks),
				ClusterSize: clusterSize,
			})
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			fmt.Printf("pool %s created on %s (uuid %s)\n", resp.Name, resp.Node, resp.UUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&name, "name", "", "pool name")
	cmd.Flags().StringVar(&disks, "disks", "", "comma-separated disk device paths")
	cmd.Flags().Uint64Var(&clusterSize, "cluster-size", 0, "cluster size in bytes")
	cmd.MarkFlagRequired("node")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("disks")
	return cmd
}

func newDestroyPoolCmd() *cobra.Command {
	var node, name, endpoint string
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := prompt.ConfirmWithForce(fmt.Sprintf("destroy pool %s/%s", node, name), force)
			if err != nil {
				if prompt.IsAborted(err) {
					return nil
				}
				return err
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}

			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			if err := s.service.DestroyPool(context.Background(), &transport.DestroyPoolRequest{Node: ids.NodeId(node), Name: name}); err != nil {
				return fmt.Errorf("destroy pool: %w", err)
			}
			fmt.Printf("pool %s/%s destroyed\n", node, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&name, "name", "", "pool name")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	cmd.MarkFlagRequired("node")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	return cmd
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
