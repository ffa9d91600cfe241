package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusfleet/nexuscore/internal/cli/prompt"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

func newNexusCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nexus", Short: "Create, destroy, publish or reconfigure nexuses"}
	cmd.AddCommand(
		newCreateNexusCmd(),
		newDestroyNexusCmd(),
		newAddChildCmd(),
		newRemoveChildCmd(),
		newPublishNexusCmd(),
		newUnpublishNexusCmd(),
	)
	return cmd
}

func newCreateNexusCmd() *cobra.Command {
	var node, endpoint, uuid string
	var size uint64
	var children []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a nexus from one or more child block devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			resp, err := s.service.CreateNexus(context.Background(), ids.NodeId(node), &transport.CreateNexusRequest{
				UUID: uuid, Size: size, Children: children,
			})
			if err != nil {
				return fmt.Errorf("create nexus: %w", err)
			}
			fmt.Printf("nexus %s created on %s, state=%s\n", resp.UUID, node, resp.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	cmd.Flags().Uint64Var(&size, "size", 0, "nexus size in bytes")
	cmd.Flags().StringSliceVar(&children, "child", nil, "child block device URI (repeatable)")
	for _, f := range []string{"node", "endpoint", "uuid", "size", "child"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newDestroyNexusCmd() *cobra.Command {
	var node, endpoint, uuid string
	var force bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy a nexus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ok, err := prompt.ConfirmDanger(fmt.Sprintf("destroy nexus %s", uuid), uuid)
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
			}

			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			if err := s.service.DestroyNexus(context.Background(), ids.NodeId(node), &transport.DestroyNexusRequest{UUID: uuid}); err != nil {
				return fmt.Errorf("destroy nexus: %w", err)
			}
			fmt.Printf("nexus %s destroyed\n", uuid)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	for _, f := range []string{"node", "endpoint", "uuid"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newAddChildCmd() *cobra.Command {
	var node, endpoint, uuid, uri string
	var noRebuild bool

	cmd := &cobra.Command{
		Use:   "add-child",
		Short: "Add a child to a nexus, triggering a rebuild unless --no-rebuild",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			resp, err := s.service.AddChildNexus(context.Background(), ids.NodeId(node), &transport.AddChildNexusRequest{
				UUID: uuid, URI: uri, NoRebuild: noRebuild,
			})
			if err != nil {
				return fmt.Errorf("add child: %w", err)
			}
			fmt.Printf("child %s added, state=%s\n", resp.URI, resp.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	cmd.Flags().StringVar(&uri, "uri", "", "child block device URI")
	cmd.Flags().BoolVar(&noRebuild, "no-rebuild", false, "skip rebuilding the new child")
	for _, f := range []string{"node", "endpoint", "uuid", "uri"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newRemoveChildCmd() *cobra.Command {
	var node, endpoint, uuid, uri string

	cmd := &cobra.Command{
		Use:   "remove-child",
		Short: "Remove a child from a nexus",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			if err := s.service.RemoveChildNexus(context.Background(), ids.NodeId(node), &transport.RemoveChildNexusRequest{UUID: uuid, URI: uri}); err != nil {
				return fmt.Errorf("remove child: %w", err)
			}
			fmt.Printf("child %s removed\n", uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	cmd.Flags().StringVar(&uri, "uri", "", "child block device URI")
	for _, f := range []string{"node", "endpoint", "uuid", "uri"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newPublishNexusCmd() *cobra.Command {
	var node, endpoint, uuid, protocol string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a nexus for host attachment",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			uri, err := s.service.PublishNexus(context.Background(), ids.NodeId(node), &transport.PublishNexusRequest{UUID: uuid, Protocol: protocol})
			if err != nil {
				return fmt.Errorf("publish nexus: %w", err)
			}
			fmt.Println(uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "target node")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "target node's gRPC endpoint")
	cmd.Flags().StringVar(&uuid, "uuid", "", "nexus UUID")
	cmd.Flags().StringVar(&protocol, "protocol", "nvmf", "share protocol")
	for _, f := range []string{"node", "endpoint", "uuid"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newUnpublishNexusCmd() *cobra.Command {
	var node, endpoint, uuid string

	cmd := &cobra.Command{
		Use:   "unpublish",
		Short: "Unpublish a nexus",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			s.registry.SetEndpoint(ids.NodeId(node), endpoint)

			if err := s.service.UnpublishNexus(context.Background(), ids.NodeId(node), &transport.UnpublishNexusRequest{UUID: uuid}); err != nil {
				return fmt.Errorf("unpublish nexus: %w", err)
			}
			fmt.Printf("nexus %s unpublished\n", uuid)
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
