package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/ipadapter/adapter"
)

func newListenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the adapter and log received datagrams",
		Args:  cobra.NoArgs,
		RunE:  runListen,
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on host:port")
	return cmd
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := adapter.New(adapterOptions(cfg, log)...)
	if err != nil {
		return err
	}
	a.SetPacketReceivedHandler(func(ep adapter.Endpoint, data []byte) {
		log.WithFields(logrus.Fields{
			"from":    ep.String(),
			"flags":   ep.Flags.String(),
			"ifindex": ep.IfIndex,
			"bytes":   len(data),
		}).Info("datagram received")
	})
	a.SetStateChangedHandler(func(status adapter.InterfaceStatus, ifi adapter.Interface) {
		log.WithFields(logrus.Fields{
			"interface": ifi.Name,
			"addr":      ifi.Addr,
			"status":    status.String(),
		}).Info("interface changed")
	})
	a.SetErrorHandler(func(ep adapter.Endpoint, _ []byte, err error) {
		log.WithError(err).WithField("to", ep.String()).Warn("send failed")
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if err := a.Start(g); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, ReadHeaderTimeout: 5 * time.Second}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv.Handler = mux
		g.Go(func() error {
			log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, slot := range []adapter.Slot{adapter.SlotU4, adapter.SlotU4S, adapter.SlotU6, adapter.SlotU6S} {
		if port := a.Port(slot); port != 0 {
			log.WithFields(logrus.Fields{"slot": slot.String(), "port": port}).Info("unicast socket bound")
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	a.Stop()
	return g.Wait()
}
