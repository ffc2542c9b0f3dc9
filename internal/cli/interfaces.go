package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/ipadapter/adapter"
)

func newInterfacesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List the local endpoints the adapter would advertise",
		Args:  cobra.NoArgs,
		RunE:  runInterfaces,
	}
}

func runInterfaces(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := adapter.New(adapterOptions(cfg, log)...)
	if err != nil {
		return err
	}

	g := &errgroup.Group{}
	if err := a.Start(g); err != nil {
		return err
	}
	defer func() {
		a.Stop()
		_ = g.Wait()
	}()

	eps, err := a.GetInterfaceInfo()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IFINDEX\tADDRESS\tPORT\tFLAGS")
	for _, ep := range eps {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", ep.IfIndex, ep.Addr, ep.Port, ep.Flags)
	}
	return w.Flush()
}
