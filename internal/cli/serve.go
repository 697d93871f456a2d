package cli

import (
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"themerizr/internal/api"
	"themerizr/internal/cert"
	"themerizr/internal/config"
	"themerizr/internal/controller"
)

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve SOURCE TARGET --prefix PREFIX",
		Short: "Convert, then serve the theme over HTTP for Structurizr to load",
		Long: "Runs a conversion and serves TARGET so the theme can be referenced by URL\n" +
			"(http://host:port/theme.json). With --watch, SOURCE is converted again whenever\n" +
			"it changes and connected preview pages reload.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, args)
		},
	}
	fs := cmd.Flags()
	addConvertFlags(fs, opts)
	fs.StringVar(&opts.flags.Addr, "addr", config.DefaultAddr, "Address to listen on.")
	fs.BoolVar(&opts.flags.Watch, "watch", false, "Rebuild the theme when SOURCE changes.")
	fs.BoolVar(&opts.flags.TLS, "tls", false, "Serve HTTPS with a generated self-signed certificate.")
	fs.StringVar(&opts.flags.CertDir, "cert-dir", "", "Directory for the generated certificate (default: user cache dir).")
	return cmd
}

func runServe(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := opts.resolve(cmd, args)
	if err != nil {
		return err
	}
	logger := opts.logger(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	ctrl := controller.New(cfg, logger)
	if _, err := convertOnce(cmd, cfg, logger, ctrl); err != nil {
		return err
	}

	serverOpts := api.ServerOptions{Addr: cfg.Addr, Log: logger}
	if cfg.TLS {
		serverOpts.CertFile, serverOpts.KeyFile, err = ensureCertificate(cfg, logger)
		if err != nil {
			return err
		}
	}

	_, errc := api.StartServer(ctx, ctrl, serverOpts)
	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	logger.WithFields(log.Fields{"addr": cfg.Addr, "scheme": scheme}).Info("Serving theme.json")

	if cfg.Watch {
		go func() {
			if err := ctrl.Watch(ctx); err != nil {
				logger.WithError(err).Error("watch stopped")
			}
		}()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	for range errc {
		// drain until the listener has returned
	}
	logger.Info("Server stopped")
	return nil
}

func ensureCertificate(cfg *config.Config, logger log.FieldLogger) (string, string, error) {
	dir := cfg.CertDir
	if dir == "" {
		var err error
		if dir, err = cert.DefaultDir(); err != nil {
			return "", "", err
		}
	}
	certPath, keyPath, err := cert.EnsureSelfSigned(dir)
	if err != nil {
		return "", "", err
	}
	if info, err := cert.GetCertificateInfo(certPath); err == nil {
		logger.WithField("cert", certPath).Debug(info)
	}
	return certPath, keyPath, nil
}
