package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage a gateway's registered table schema",
	}

	cmd.AddCommand(newSchemaRegisterCmd())

	return cmd
}

func newSchemaRegisterCmd() *cobra.Command {
	var server, gatewayID, token, file string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a table schema with a running gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchemaRegister(cmd.Context(), server, gatewayID, token, file)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "lakesyncd server base URL")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "target gateway id")
	cmd.Flags().StringVar(&token, "token", "", "admin bearer JWT")
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON table schema document")

	_ = cmd.MarkFlagRequired("gateway")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSchemaRegister(ctx context.Context, server, gatewayID, token, file string) error {
	body, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("schema register: read %s: %w", file, err)
	}

	url := fmt.Sprintf("%s/admin/schema/%s", server, gatewayID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("schema register: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("schema register: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("schema register: server returned %d: %s", resp.StatusCode, string(respBody))
	}

	cliContextFrom(ctx).Logger.Info("schema registered", slog.String("gateway", gatewayID))

	return nil
}
