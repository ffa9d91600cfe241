package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusfleet/nexuscore/internal/cli/prompt"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

func newReplicaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "replica", Short: "Create, share, unshare or destroy replicas"}
	cmd.AddCommand(newCreateReplicaCmd(), newShareReplicaCmd(), newUnshareReplicaCmd(), newDestroyReplicaCmd())
	return cmd
}

func newCreateReplicaCmd() *cobra.Command {
	var node, pool, uuid, endpoint string
	var size uint64
	var thin bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a replica in a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			resp, err := s.service.CreateReplica(context.Background(), &transport.CreateReplicaRequest{
				Node: ids.NodeId(node), Pool: pool, UUID: uuid, Size: size, Thin: thin,
			})
			if err != nil {
				return fmt.Errorf("create replica: %w", err)
			}
			fmt.Printf("replica %s created in %s/%s\n", resp.UUID, node, pool)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&pool, "pool", "", "owning pool")
	cmd.Flags().StringVar(&uuid, "uuid", "", "replica UUID")
	cmd.Flags().Uint64Var(&size, "size", 0, "size in bytes")
	cmd.Flags().BoolVar(&thin, "thin", false, "thin-provision the replica")
	for _, f := range []string{"node", "endpoint", "pool", "uuid", "size"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newShareReplicaCmd() *cobra.Command {
	var node, pool, uuid, endpoint, protocol string

	cmd := &cobra.Command{
		Use:   "share",
		Short: "Share a replica over a transport protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			uri, err := s.service.ShareReplica(context.Background(), &transport.ShareReplicaRequest{
				Node: ids.NodeId(node), Pool: pool, UUID: uuid, Protocol: protocol,
			})
			if err != nil {
				return fmt.Errorf("share replica: %w", err)
			}
			fmt.Println(uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&pool, "pool", "", "owning pool")
	cmd.Flags().StringVar(&uuid, "uuid", "", "replica UUID")
	cmd.Flags().StringVar(&protocol, "protocol", "nvmf", "share protocol")
	for _, f := range []string{"node", "endpoint", "pool", "uuid"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newUnshareReplicaCmd() *cobra.Command {
	var node, pool, uuid, endpoint string

	cmd := &cobra.Command{
		Use:   "unshare",
		Short: "Unshare a replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			if err := s.service.UnshareReplica(context.Background(), &transport.UnshareReplicaRequest{Node: ids.NodeId(node), Pool: pool, UUID: uuid}); err != nil {
				return fmt.Errorf("unshare replica: %w", err)
			}
			fmt.Printf("replica %s unshared\n", uuid)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&pool, "pool", "", "owning pool")
	cmd.Flags().StringVar(&uuid, "uuid", "", "replica UUID")
	for _, f := range []string{"node", "endpoint", "pool", "uuid"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newDestroyReplicaCmd() *cobra.Command {
	var node, pool, uuid, endpoint string
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy a replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := prompt.ConfirmWithForce(fmt.Sprintf("destroy replica %s", uuid), force)
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

			if err := s.service.DestroyReplica(context.Background(), &transport.DestroyReplicaRequest{Node: ids.NodeId(node), Pool: pool, UUID: uuid}); err != nil {
				return fmt.Errorf("destroy replica: %w", err)
			}
			fmt.Printf("replica %s destroyed\n", uuid)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&pool, "pool", "", "owning pool")
	cmd.Flags().StringVar(&uuid, "uuid", "", "replica UUID")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	for _, f := range []string{"node", "endpoint", "pool", "uuid"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}
