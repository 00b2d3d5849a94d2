package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// client talks to a roachplaned API. Identity is asserted through the same
// headers the authenticating proxy would set, which makes the CLI usable
// both behind the proxy and directly against a dev instance.
type client struct {
	base   string
	user   string
	groups string
	http   *http.Client
}

func newClient() (*client, error) {
	base := strings.TrimRight(os.Getenv("ROACHPLANE_API"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	user := os.Getenv("ROACHPLANE_USER")
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		return nil, fmt.Errorf("set ROACHPLANE_USER")
	}
	return &client{
		base:   base,
		user:   user,
		groups: os.Getenv("ROACHPLANE_GROUPS"),
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Remote-User", c.user)
	if c.groups != "" {
		req.Header.Set("X-Remote-Groups", c.groups)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(raw)))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "roachctl",
		Short:         "CLI for the roachplane control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newClustersCommand())
	cmd.AddCommand(newJobsCommand())
	cmd.AddCommand(newAdminCommand())
	return cmd
}

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Settings and secrets (admin role required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "settings",
		Short: "List operator settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/settings", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-setting KEY VALUE",
		Short: "Update one operator setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPut, "/v1/settings/"+args[0],
				map[string]any{"value": args[1]})
		},
	})

	setSecret := &cobra.Command{
		Use:   "set-secret KEY",
		Short: "Upload a secret such as a group SSH key, read from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := cmd.Flags().GetString("from-file")
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPut, "/v1/secrets/"+args[0],
				map[string]any{"value": string(data)})
		},
	}
	setSecret.Flags().String("from-file", "", "Path to the file holding the secret value")
	_ = setSecret.MarkFlagRequired("from-file")
	cmd.AddCommand(setSecret)

	cmd.AddCommand(&cobra.Command{
		Use:   "events",
		Short: "Show the operator audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/events", nil)
		},
	})

	return cmd
}

func newClustersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Cluster lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clusters visible to your groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/clusters", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get NAME",
		Short: "Show one cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/clusters/"+args[0], nil)
		},
	})

	cmd.AddCommand(newClustersCreateCommand(false))
	cmd.AddCommand(newClustersCreateCommand(true))

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Tear a cluster down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodDelete, "/v1/clusters/"+args[0], nil)
		},
	})

	cmd.AddCommand(newClustersScaleCommand())
	cmd.AddCommand(newClustersUpgradeCommand())
	cmd.AddCommand(newClustersRestoreCommand())
	cmd.AddCommand(newClustersDebugCommand())

	cmd.AddCommand(&cobra.Command{
		Use:   "jobs NAME",
		Short: "List jobs that ran against a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/clusters/"+args[0]+"/jobs", nil)
		},
	})
	return cmd
}

func newClustersDebugCommand() *cobra.Command {
	var playbook string

	cmd := &cobra.Command{
		Use:   "debug NAME",
		Short: "Run a diagnostic playbook against a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/v1/clusters/"+args[0]+"/debug",
				map[string]any{"playbook": playbook})
		},
	}

	cmd.Flags().StringVar(&playbook, "playbook", "", "Diagnostic playbook name")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

func newClustersCreateCommand(recreate bool) *cobra.Command {
	var (
		group     string
		version   string
		nodeCount int
		nodeCPUs  int
		diskSize  int
		regions   []string
	)

	use, short := "create NAME", "Provision a new cluster"
	if recreate {
		use, short = "recreate NAME", "Reprovision an existing cluster from scratch"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			payload := map[string]any{
				"name":       args[0],
				"group":      group,
				"version":    version,
				"node_count": nodeCount,
				"node_cpus":  nodeCPUs,
				"disk_size":  diskSize,
				"regions":    regions,
			}
			path := "/v1/clusters"
			if recreate {
				path = "/v1/clusters/" + args[0] + "/recreate"
			}
			return c.do(cmd.Context(), http.MethodPost, path, payload)
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Owning group")
	cmd.Flags().StringVar(&version, "version", "", "Database version")
	cmd.Flags().IntVar(&nodeCount, "node-count", 0, "Nodes per region")
	cmd.Flags().IntVar(&nodeCPUs, "node-cpus", 0, "CPUs per node")
	cmd.Flags().IntVar(&diskSize, "disk-size", 0, "Data volume size in GB")
	cmd.Flags().StringSliceVar(&regions, "region", nil, "Placement region as cloud:region (repeatable)")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("node-count")
	_ = cmd.MarkFlagRequired("node-cpus")
	_ = cmd.MarkFlagRequired("disk-size")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func newClustersScaleCommand() *cobra.Command {
	var (
		nodeCount int
		nodeCPUs  int
		diskSize  int
		regions   []string
	)

	cmd := &cobra.Command{
		Use:   "scale NAME",
		Short: "Reshape a running cluster to the given desired shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			payload := map[string]any{
				"node_count": nodeCount,
				"node_cpus":  nodeCPUs,
				"disk_size":  diskSize,
				"regions":    regions,
			}
			return c.do(cmd.Context(), http.MethodPost, "/v1/clusters/"+args[0]+"/scale", payload)
		},
	}

	cmd.Flags().IntVar(&nodeCount, "node-count", 0, "Desired nodes per region")
	cmd.Flags().IntVar(&nodeCPUs, "node-cpus", 0, "Desired CPUs per node")
	cmd.Flags().IntVar(&diskSize, "disk-size", 0, "Desired data volume size in GB")
	cmd.Flags().StringSliceVar(&regions, "region", nil, "Desired placement region as cloud:region (repeatable)")
	_ = cmd.MarkFlagRequired("node-count")
	_ = cmd.MarkFlagRequired("node-cpus")
	_ = cmd.MarkFlagRequired("disk-size")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func newClustersUpgradeCommand() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "upgrade NAME",
		Short: "Roll a cluster to a new database version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/v1/clusters/"+args[0]+"/upgrade",
				map[string]any{"version": version})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Target database version")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newClustersRestoreCommand() *cobra.Command {
	var backupPath string

	cmd := &cobra.Command{
		Use:   "restore NAME",
		Short: "Load a backup into a running cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodPost, "/v1/clusters/"+args[0]+"/restore",
				map[string]any{"backup_path": backupPath})
		},
	}

	cmd.Flags().StringVar(&backupPath, "backup-path", "", "Backup object path")
	_ = cmd.MarkFlagRequired("backup-path")
	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect lifecycle jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs visible to your groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/jobs", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/jobs/"+args[0], nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tasks ID",
		Short: "Show the task stream of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.do(cmd.Context(), http.MethodGet, "/v1/jobs/"+args[0]+"/tasks", nil)
		},
	})

	return cmd
}
