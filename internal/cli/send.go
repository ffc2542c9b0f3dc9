package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/ipadapter/adapter"
	"github.com/joshuafuller/ipadapter/internal/endpoint"
)

type sendOptions struct {
	addr      string
	port      uint16
	multicast bool
	ipv6      bool
	secure    bool
	scope     string
	wait      time.Duration
}

func newSendCommand() *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send PAYLOAD",
		Short: "Send one datagram",
		Long: `Send one datagram to a unicast endpoint, or to the CoAP multicast
group with --multicast. The payload is sent as given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, o, []byte(args[0]))
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "", "destination address (unicast)")
	f.Uint16Var(&o.port, "port", 0, "destination port (0 selects 5683, or 5684 with --secure)")
	f.BoolVar(&o.multicast, "multicast", false, "send to the CoAP multicast group")
	f.BoolVar(&o.secure, "secure", false, "send over the secure sockets")
	f.StringVar(&o.scope, "scope", "link", "IPv6 multicast scope")
	f.DurationVar(&o.wait, "wait", 500*time.Millisecond, "time to wait for send errors")
	return cmd
}

// target builds the destination endpoint. The family follows --ipv6 for
// multicast; unicast sends take it from the address.
func (o *sendOptions) target() (adapter.Endpoint, error) {
	var flags adapter.Flags
	if o.secure {
		flags |= adapter.FlagSecure
	}

	if o.multicast {
		scope, ok := endpoint.ParseScope(o.scope)
		if !ok {
			return adapter.Endpoint{}, fmt.Errorf("unknown scope %q", o.scope)
		}
		if o.ipv6 {
			flags |= adapter.FlagIPv6 | scope
		} else {
			flags |= adapter.FlagIPv4
		}
		return adapter.NewEndpoint(flags|adapter.FlagMulticast, "", 0), nil
	}

	if o.addr == "" {
		return adapter.Endpoint{}, fmt.Errorf("--addr is required for unicast")
	}
	if o.ipv6 {
		flags |= adapter.FlagIPv6
	} else {
		flags |= adapter.FlagIPv4
	}
	return adapter.NewEndpoint(flags, o.addr, o.port), nil
}

func runSend(cmd *cobra.Command, o *sendOptions, payload []byte) error {
	// --ipv6 is a persistent flag shared with the adapter family switch.
	o.ipv6, _ = cmd.Flags().GetBool("ipv6")

	ep, err := o.target()
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := adapter.New(adapterOptions(cfg, log)...)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	a.SetErrorHandler(func(_ adapter.Endpoint, _ []byte, err error) {
		select {
		case failed <- err:
		default:
		}
	})

	g := &errgroup.Group{}
	if err := a.Start(g); err != nil {
		return err
	}
	defer func() {
		a.Stop()
		_ = g.Wait()
	}()

	if ep.IsMulticast() {
		err = a.SendMulticast(ep, payload)
	} else {
		err = a.SendUnicast(ep, payload)
	}
	if err != nil {
		return err
	}

	select {
	case err := <-failed:
		return fmt.Errorf("send to %s: %w", ep, err)
	case <-time.After(o.wait):
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(payload), ep)
	return nil
}
