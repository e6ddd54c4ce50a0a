package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/report"
	"github.com/user/hostguard/pkg/server"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Audit the host and write a PDF report",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			if err := os.MkdirAll(rt.cfg.ReportDir, 0o700); err != nil {
				fmt.Printf("Error creating report directory: %v\n", err)
				return
			}
			out = filepath.Join(rt.cfg.ReportDir, "audit_report_"+time.Now().Format("20060102_150405")+".pdf")
		}

		hostname, _ := os.Hostname()
		findings := rt.engine.Audit().List()
		if err := report.GeneratePDF(findings, rt.ledger.History, hostname, out); err != nil {
			fmt.Printf("Error generating report: %v\n", err)
			return
		}
		fmt.Printf("Report written to %s\n", out)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = rt.cfg.Listen
		}
		if !DebugMode {
			gin.SetMode(gin.ReleaseMode)
		}

		r := server.New(rt.engine, rt.ledger, rt.cfg, rt.log)
		rt.log.Info("serving API", zap.String("listen", listen), zap.Int("rules", len(rt.engine.Rules())))
		if err := r.Run(listen); err != nil {
			fmt.Printf("Error serving: %v\n", err)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "PDF path (default: a timestamped file in the report directory)")
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}
