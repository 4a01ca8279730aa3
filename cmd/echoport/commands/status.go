package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/echoport/internal/cli/output"
	"github.com/marmos91/echoport/internal/cli/timeutil"
	"github.com/marmos91/echoport/pkg/apiclient"
	"github.com/marmos91/echoport/pkg/server"
	"github.com/spf13/cobra"
)

var (
	statusOutput      string
	statusConnections bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the echoport server.

The PID file tells whether the process is alive; the control API reports the
serve phase, cycle, bound address and connection totals.

Examples:
  # Check status (uses default settings)
  echoport status

  # Include live connections
  echoport status --connections

  # Output as JSON from a custom API port
  echoport status --api-port 9080 -o json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
	statusCmd.Flags().BoolVarP(&statusConnections, "connections", "c", false, "List live connections")
}

// StatusReport is what the status command prints.
type StatusReport struct {
	Running     bool                    `json:"running" yaml:"running"`
	PID         int                     `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message     string                  `json:"message" yaml:"message"`
	Server      *server.Status          `json:"server,omitempty" yaml:"server,omitempty"`
	Connections []server.ConnectionInfo `json:"connections,omitempty" yaml:"connections,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	report := StatusReport{Message: "Server is not running"}
	if pid, err := readPidFile(pidFilePath()); err == nil && processAlive(pid) {
		report.Running = true
		report.PID = pid
		report.Message = "Server process is running (control API unreachable)"
	}

	client := apiclient.New(apiEndpoint(cmd, cfg)).WithTimeout(2 * time.Second)
	if st, err := client.Status(); err == nil {
		report.Running = true
		report.Server = st
		report.Message = fmt.Sprintf("Server is %s", st.Phase)
		if statusConnections {
			conns, err := client.Connections()
			if err != nil {
				return fmt.Errorf("failed to list connections: %w", err)
			}
			report.Connections = conns
		}
	}

	if format != output.FormatTable {
		return output.Print(os.Stdout, format, report)
	}
	return printStatusTable(report)
}

func printStatusTable(r StatusReport) error {
	now := time.Now()

	var kv output.KeyValues
	switch {
	case r.Server != nil && r.Server.Phase == server.PhaseRunning.String():
		kv.Add("Status", output.Colorize("● "+r.Server.Phase, output.Green, true))
	case r.Running:
		phase := "running"
		if r.Server != nil {
			phase = r.Server.Phase
		}
		kv.Add("Status", output.Colorize("● "+phase, output.Yellow, true))
	default:
		kv.Add("Status", output.Colorize("○ stopped", output.Red, true))
	}
	if r.PID > 0 {
		kv.Add("PID", strconv.Itoa(r.PID))
	}
	if st := r.Server; st != nil {
		kv.Add("Address", st.Address)
		kv.Add("Cycle", fmt.Sprintf("%d (%s)", st.Cycle, st.CycleID))
		kv.Add("Started", timeutil.FormatTime(st.StartedAt))
		kv.Add("Uptime", timeutil.FormatSince(st.StartedAt, now))
		kv.Add("Driver", st.Driver)
		kv.Add("Accept mode", fmt.Sprintf("%s (%d pending)", st.AcceptMode, st.PendingAccepts))
		kv.Add("Workers", strconv.Itoa(st.Workers))
		kv.Add("Connections", strconv.Itoa(st.Connections))
		kv.Add("Accepted", strconv.FormatInt(st.Accepted, 10))
		kv.Add("Closed", strconv.FormatInt(st.Closed, 10))
		kv.Add("Rejected", strconv.FormatInt(st.Rejected, 10))
		kv.Add("Bytes echoed", strconv.FormatInt(st.BytesEchoed, 10))
		kv.Add("Completions", strconv.FormatInt(st.Completions, 10))
	}

	fmt.Println()
	if err := output.PrintKeyValues(os.Stdout, kv); err != nil {
		return err
	}
	fmt.Printf("\n  %s\n\n", r.Message)

	if len(r.Connections) > 0 {
		return output.PrintTable(os.Stdout, connectionTable(r.Connections, now))
	}
	return nil
}

func connectionTable(conns []server.ConnectionInfo, now time.Time) *output.TableData {
	t := output.NewTableData("Key", "ID", "Remote", "State", "Age", "Bytes")
	for _, c := range conns {
		t.AddRow(
			strconv.FormatUint(c.Key, 16),
			c.ID,
			c.Remote,
			c.State,
			timeutil.FormatSince(c.Since, now),
			strconv.FormatInt(c.BytesEchoed, 10),
		)
	}
	return t
}
