package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"taskbridge/internal/bridge"
	"taskbridge/internal/grpcbridge"
	"taskbridge/internal/mcphttp"
)

var (
	probeURL     string
	probeGRPC    string
	probeAPIKey  string
	probeTool    string
	probeArgs    string
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Lists the tools of a running bridge and optionally calls one",
	Long: `probe connects to a running bridge over MCP streamable HTTP (or over gRPC
with --grpc), prints the tool catalog and, with --tool, calls that tool with
the JSON object given in --args. Progress notifications are printed as they
arrive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := setup(cmd, nil)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("api-key") {
			cfg.Bridge.APIKey = probeAPIKey
		}
		var toolArgs map[string]any
		if probeArgs != "" {
			if err := json.Unmarshal([]byte(probeArgs), &toolArgs); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()
		out := cmd.OutOrStdout()

		if probeGRPC != "" {
			logger.Debug("probing over grpc", "addr", probeGRPC)
			return probeOverGRPC(ctx, out, cfg.Bridge.APIKey, toolArgs)
		}
		url := probeURL
		if url == "" {
			url = fmt.Sprintf("http://localhost:%d/mcp", cfg.Bridge.Port)
		}
		logger.Debug("probing over mcp", "url", url)
		return probeOverMCP(ctx, out, url, mcphttp.BearerClient(cfg.Bridge.APIKey), toolArgs)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeURL, "url", "", "MCP endpoint of the bridge (default http://localhost:<bridge port>/mcp)")
	probeCmd.Flags().StringVar(&probeGRPC, "grpc", "", "Probe the gRPC transport at this address instead")
	probeCmd.Flags().StringVar(&probeAPIKey, "api-key", "", "Bearer secret (default from config)")
	probeCmd.Flags().StringVar(&probeTool, "tool", "", "Tool to call after listing")
	probeCmd.Flags().StringVar(&probeArgs, "args", "", "Tool arguments as a JSON object")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Overall deadline for the probe")
}

func probeOverMCP(ctx context.Context, out io.Writer, url string, httpClient *http.Client, args map[string]any) error {
	client := sdk.NewClient(&sdk.Implementation{Name: "taskbridge-probe", Version: version}, &sdk.ClientOptions{
		ProgressNotificationHandler: func(_ context.Context, req *sdk.ProgressNotificationClientRequest) {
			p := req.Params
			fmt.Fprintf(out, "progress %g/%g %s\n", p.Progress, p.Total, p.Message)
		},
	})
	cs, err := client.Connect(ctx, &sdk.StreamableClientTransport{
		Endpoint:   url,
		HTTPClient: httpClient,
		MaxRetries: -1,
	}, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer cs.Close()

	if info := cs.InitializeResult(); info != nil && info.ServerInfo != nil {
		fmt.Fprintf(out, "connected to %s %s\n", info.ServerInfo.Name, info.ServerInfo.Version)
	}
	tools, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	for _, tool := range tools.Tools {
		fmt.Fprintf(out, "%s\t%s\n", tool.Name, firstLine(tool.Description))
	}
	if probeTool == "" {
		return nil
	}

	params := &sdk.CallToolParams{Name: probeTool, Arguments: args}
	params.SetProgressToken("probe")
	res, err := cs.CallTool(ctx, params)
	if err != nil {
		return fmt.Errorf("call %s: %w", probeTool, err)
	}
	for _, c := range res.Content {
		if text, ok := c.(*sdk.TextContent); ok {
			fmt.Fprintln(out, text.Text)
		}
	}
	if res.IsError {
		return fmt.Errorf("%s failed", probeTool)
	}
	return nil
}

func probeOverGRPC(ctx context.Context, out io.Writer, token string, args map[string]any) error {
	cc, err := grpc.NewClient(probeGRPC, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", probeGRPC, err)
	}
	defer cc.Close()
	client := grpcbridge.NewClient(cc, token)

	ops, err := client.ListOperations(ctx, bridge.KindTool)
	if err != nil {
		return fmt.Errorf("list operations: %w", err)
	}
	for _, op := range ops {
		fmt.Fprintf(out, "%s\t%s\n", op.Name, firstLine(op.Description))
	}
	if probeTool == "" {
		return nil
	}

	result, err := client.InvokeStream(ctx, probeTool, args, func(e bridge.ProgressEvent) {
		fmt.Fprintf(out, "progress %d/%d %s\n", e.Current, e.Total, e.Note)
	})
	if err != nil {
		if kind, field, ok := grpcbridge.ErrorKind(err); ok {
			return fmt.Errorf("%s failed (%s, field %q): %w", probeTool, kind, field, err)
		}
		return fmt.Errorf("%s failed: %w", probeTool, err)
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(raw))
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
