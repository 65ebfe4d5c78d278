package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/krau/tinydata/config"
	"github.com/krau/tinydata/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve relevance scoring over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		cfg := config.C()

		scorer, release, err := loadScorer(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()

		gin.SetMode(gin.ReleaseMode)
		srv := server.New(scorer, server.Options{Token: cfg.Token})
		return srv.Run(ctx, listenAddr(cfg))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
