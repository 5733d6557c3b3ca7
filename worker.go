package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mahirjain10/image-variants/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume variant jobs from RabbitMQ and publish status updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppFromCmd(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if app.config.RabbitMqURL == "" {
			return fmt.Errorf("RABBITMQ_URL is missing")
		}
		conn, err := queue.NewRabbitMQClient(app.config.RabbitMqURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		rabbitMqService := queue.NewRabbitMqService(conn, app.pipeline, app.variants, app.config, app.log)
		app.log.Info("Application initialized successfully")
		return rabbitMqService.Start(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
