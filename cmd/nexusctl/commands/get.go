package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nexusfleet/nexuscore/internal/cli/output"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "get", Short: "List pools, replicas or nexuses from the control-plane store"}
	cmd.AddCommand(newGetPoolsCmd(), newGetReplicasCmd(), newGetNexusesCmd())
	return cmd
}

func newGetPoolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pool",
		Aliases: []string{"pools"},
		Short:   "List known pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			pools, err := s.store.ListPools(context.Background())
			if err != nil {
				return fmt.Errorf("list pools: %w", err)
			}
			t := output.NewTableData("UUID", "NAME", "NODE", "DISKS")
			for _, p := range pools {
				t.AddRow(p.ID, p.Name, p.Node, p.Disks)
			}
			output.PrintTable(os.Stdout, t)
			return nil
		},
	}
}

func newGetReplicasCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "replica",
		Aliases: []string{"replicas"},
		Short:   "List known replicas",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			replicas, err := s.store.ListReplicas(context.Background())
			if err != nil {
				return fmt.Errorf("list replicas: %w", err)
			}
			t := output.NewTableData("UUID", "POOL", "NODE", "SIZE", "SHARED", "URI")
			for _, r := range replicas {
				t.AddRow(r.UUID, r.Pool, r.Node, strconv.FormatUint(r.SizeBytes, 10), strconv.FormatBool(r.Shared), r.ShareURI)
			}
			output.PrintTable(os.Stdout, t)
			return nil
		},
	}
}

func newGetNexusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "nexus",
		Aliases: []string{"nexuses"},
		Short:   "List known nexuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			nexuses, err := s.store.ListNexuses(context.Background())
			if err != nil {
				return fmt.Errorf("list nexuses: %w", err)
			}
			t := output.NewTableData("UUID", "NODE", "STATE", "SIZE", "CHILDREN", "URI")
			for _, n := range nexuses {
				t.AddRow(n.UUID, n.Node, n.State, strconv.FormatUint(n.SizeBytes, 10), strconv.Itoa(len(n.Children)), n.ShareURI)
			}
			output.PrintTable(os.Stdout, t)
			return nil
		},
	}
}
