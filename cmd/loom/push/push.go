package pushcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/loom/cmd/loom/sqlitepath"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/merkle"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"
)

const pushLongDesc string = `Push local nodes and thread heads to a remote loom server.

Reads all nodes from the local SQLite database and POSTs them to the
remote server's /dag/nodes endpoint, then pushes thread heads to
/dag/threads. Content-addressing ensures duplicate nodes are skipped
on the server side, and a pushed head only wins when its chain is
deeper than the server's.

Examples:
  loom push http://192.168.1.42:6061
  loom push --sqlite ~/.loom/loom.db http://localhost:6061`

const pushShortDesc string = "Push nodes and threads to a remote loom server"

type pushCommander struct {
	sqlitePath string
	batchSize  int
}

type pushNodesResponse struct {
	New       int      `json:"new"`
	Duplicate int      `json:"duplicate"`
	Errors    []string `json:"errors"`
}

type pushThreadsResponse struct {
	Received int      `json:"received"`
	Updated  int      `json:"updated"`
	Errors   []string `json:"errors"`
}

func NewPushCmd() *cobra.Command {
	cmder := &pushCommander{}

	cmd := &cobra.Command{
		Use:   "push <server-url>",
		Short: pushShortDesc,
		Long:  pushLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to local SQLite database")
	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 500, "Nodes per HTTP request")

	return cmd
}

func (c *pushCommander) run(ctx context.Context, cmd *cobra.Command, serverURL string) error {
	serverURL = strings.TrimRight(serverURL, "/")

	dbPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve local database: %w", err)
	}

	driver, err := sqlite.NewDriver(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("could not open local database %s: %w", dbPath, err)
	}
	defer driver.Close()

	nodes, err := driver.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list local nodes: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local nodes to push.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushing %d nodes from %s to %s\n", len(nodes), dbPath, serverURL)

	var totalNew, totalDup, totalErr int

	for i := 0; i < len(nodes); i += c.batchSize {
		end := i + c.batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		batch := nodes[i:end]

		resp, err := c.postNodes(ctx, serverURL, batch)
		if err != nil {
			return fmt.Errorf("push failed on batch %d-%d: %w", i, end-1, err)
		}

		totalNew += resp.New
		totalDup += resp.Duplicate
		totalErr += len(resp.Errors)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d new nodes (%d already existed, %d errors)\n",
		totalNew, totalDup, totalErr)

	all, err := driver.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("could not list local threads: %w", err)
	}

	// Empty threads have no head to offer the server.
	threads := all[:0]
	for _, t := range all {
		if t.HeadHash != "" {
			threads = append(threads, t)
		}
	}
	if len(threads) == 0 {
		return nil
	}

	tresp, err := c.postThreads(ctx, serverURL, threads)
	if err != nil {
		return fmt.Errorf("thread push failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d threads (%d heads updated, %d errors)\n",
		tresp.Received, tresp.Updated, len(tresp.Errors))

	return nil
}

func (c *pushCommander) postNodes(ctx context.Context, serverURL string, nodes []*merkle.Node) (*pushNodesResponse, error) {
	var result pushNodesResponse
	if err := postJSON(ctx, serverURL+"/dag/nodes", nodes, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *pushCommander) postThreads(ctx context.Context, serverURL string, threads []*history.Thread) (*pushThreadsResponse, error) {
	var result pushThreadsResponse
	if err := postJSON(ctx, serverURL+"/dag/threads", threads, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}

	return nil
}
