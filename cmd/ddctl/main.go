// Command ddctl is the operator CLI for a running ddcontrold: a small
// cobra command tree with two diagnostic subcommands, status and
// quiet-check.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aerokv/teamcollection/internal/rpcapi"
)

var grpcAddr string

func main() {
	root := &cobra.Command{
		Use:   "ddctl",
		Short: "Operate a running ddcontrold instance",
	}
	root.PersistentFlags().StringVar(&grpcAddr, "addr", "localhost:4500", "ddcontrold gRPC address")

	root.AddCommand(statusCmd(), quietCheckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dialDiagnostics() (*rpcapi.DiagnosticsClient, error) {
	return rpcapi.DialDiagnostics(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the team collection's current health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDiagnostics()
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.Diag(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("region:            %s\n", info.Region)
			fmt.Printf("healthyTeamCount:  %d\n", info.HealthyTeamCount)
			fmt.Printf("optimalTeamCount:  %d\n", info.OptimalTeamCount)
			fmt.Printf("zeroHealthyTeams:  %v\n", info.ZeroHealthyTeams)
			fmt.Printf("unhealthyServers:  %d\n", info.UnhealthyServers)
			fmt.Printf("serverTeams:       %d\n", len(info.ServerTeams))
			fmt.Printf("machines:          %d\n", len(info.Machines))
			return nil
		},
	}
}

// quietCheckCmd reports whether the cluster is quiet enough to safely
// snapshot or restart right now.
func quietCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quiet-check",
		Short: "Report whether the cluster is quiet enough to snapshot or restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDiagnostics()
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.QuietCheck(context.Background())
			if err != nil {
				return err
			}
			if res.Quiet {
				fmt.Println("quiet: yes")
				return nil
			}
			fmt.Printf("quiet: no (badTeams=%d, inFlightRelocations=%d, unhealthyServers=%d)\n",
				res.BadTeams, res.InFlightRelocations, res.UnhealthyServers)
			os.Exit(1)
			return nil
		},
	}
}
