package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"EchoFM/config"
	"EchoFM/core/pipeline"
	"EchoFM/db"
	"EchoFM/logger"
	"EchoFM/repository"

	"github.com/spf13/cobra"
)

var reclaimLimitGB float64

// reclaimCmd 手动执行一次存储回收，供外部调度器（如cron）调用
var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "执行一次存储回收",
	Long:  `测量HLS存储占用，超过配额90%时按updated_at淘汰最旧的READY曲目`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.InfoLevel})

		if err := db.ConnectDB(cfg); err != nil {
			return err
		}
		defer db.DB.Close()

		limit := cfg.MaxStorageGB
		if reclaimLimitGB > 0 {
			limit = reclaimLimitGB
		}

		reclaimer := pipeline.NewReclaimer(repository.NewMySQLTrackRepository(), cfg.HLSDir, nil)
		result, err := reclaimer.Reclaim(context.Background(), limit)
		if err != nil {
			return err
		}

		out, _ := json.Marshal(result)
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

func init() {
	reclaimCmd.Flags().Float64Var(&reclaimLimitGB, "limit-gb", 0, "覆盖配置中的存储配额（GB）")
	rootCmd.AddCommand(reclaimCmd)
}
