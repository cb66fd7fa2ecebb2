package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "sayonarctl",
	Short: "Sayonara drive sanitization CLI",
	Long: `sayonarctl drives a sayonara server: list drives, start and watch wipe jobs,
download tamper-evident certificates and anchor them on the ledger.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SAYONARA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func registerCommands() {
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(methodsCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(certificateCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(reissueCmd())
	rootCmd.AddCommand(anchorCmd())
	rootCmd.AddCommand(anchorStatusCmd())
}

func apiClient() *client {
	return newClient(viper.GetString("server"), viper.GetDuration("timeout"))
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List drives",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := apiClient().ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(devices)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Model", "Serial", "Class", "Capacity", "Health", "Flags"})
			for _, d := range devices {
				tw.AppendRow(table.Row{d.ID, d.Model, d.Serial, d.Class, humanBytes(d.CapacityBytes), d.Health.Status, deviceFlags(d)})
			}
			tw.Render()
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health DEVICE",
		Short: "Re-read a drive's SMART health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := apiClient().RefreshHealth(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(d)
			}
			tw := newTable()
			tw.AppendRows([]table.Row{
				{"Device", d.ID},
				{"Status", d.Health.Status},
				{"Reallocated sectors", d.Health.ReallocatedSectors},
				{"Pending sectors", d.Health.PendingSectors},
				{"Temperature (C)", d.Health.TemperatureC},
				{"Power-on hours", d.Health.PowerOnHours},
			})
			tw.Render()
			return nil
		},
	}
}

func methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods DEVICE",
		Short: "List methods applicable to a drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			methods, err := apiClient().ListMethods(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(methods)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Label", "Passes", "Firmware"})
			for _, m := range methods {
				tw.AppendRow(table.Row{m.ID, m.Label, len(m.Passes), m.Firmware})
			}
			tw.Render()
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var allowSystem, watch bool
	cmd := &cobra.Command{
		Use:   "start DEVICE METHOD",
		Short: "Start a wipe job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient()
			resp, err := c.StartJob(cmd.Context(), domain.StartJobRequest{
				DeviceID:          args[0],
				MethodID:          args[1],
				AllowSystemVolume: allowSystem,
			})
			if err != nil {
				return err
			}
			if !watch {
				if viper.GetBool("json") {
					return printJSON(resp)
				}
				fmt.Printf("job %s %s\n", resp.JobID, resp.State)
				return nil
			}
			return watchJob(cmd.Context(), c, resp.JobID.String())
		},
	}
	cmd.Flags().BoolVar(&allowSystem, "allow-system-volume", false, "confirm wiping the running system's boot drive")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream progress until the job finishes")
	return cmd
}

func statusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status JOB",
		Short: "Show job progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient()
			if watch {
				return watchJob(cmd.Context(), c, args[0])
			}
			s, err := c.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(s)
			}
			fmt.Println(statusLine(*s))
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "stream progress until the job finishes")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient().CancelJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func certificateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "certificate JOB",
		Short: "Fetch a job's certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := apiClient().Certificate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out != "" {
				data, err := json.MarshalIndent(cert, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
					return err
				}
				fmt.Printf("certificate %s written to %s\n", cert.ID, out)
				return nil
			}
			if viper.GetBool("json") {
				return printJSON(cert)
			}
			anchored := "-"
			if cert.AnchorReference != nil {
				anchored = *cert.AnchorReference
			}
			tw := newTable()
			tw.AppendRows([]table.Row{
				{"Certificate", cert.ID},
				{"Job", cert.JobID},
				{"Device", fmt.Sprintf("%s %s (%s)", cert.Device.Model, cert.Device.Serial, cert.Device.ID)},
				{"Method", cert.MethodID},
				{"Passes", cert.PassCount},
				{"Verification", cert.Verification},
				{"Finished", cert.FinishedAt.Format(time.RFC3339)},
				{"Content hash", cert.ContentHash},
				{"Signer", cert.SignerKeyID},
				{"Anchor", anchored},
			})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the certificate JSON to a file")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify JOB",
		Short: "Check a certificate's content hash and signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := apiClient().VerifyCertificate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(v)
			}
			if !v.Valid {
				return fmt.Errorf("certificate %s is not valid: %s", v.CertificateID, v.Error)
			}
			signed := "unsigned"
			if v.Signed {
				signed = "signature ok"
			}
			fmt.Printf("certificate %s valid (%s)\n", v.CertificateID, signed)
			return nil
		},
	}
}

func reissueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reissue JOB",
		Short: "Issue a correction certificate superseding the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := apiClient().ReissueCertificate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cert)
			}
			fmt.Printf("certificate %s supersedes %s\n", cert.ID, cert.Supersedes)
			return nil
		},
	}
}

func anchorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anchor JOB",
		Short: "Anchor a job's certificate hash on the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := apiClient().Anchor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printReceipt(r)
		},
	}
}

func anchorStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anchor-status TXREF",
		Short: "Check ledger confirmation of an anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := apiClient().AnchorStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printReceipt(r)
		},
	}
}

func watchJob(ctx context.Context, c *client, id string) error {
	var last domain.JobStatus
	err := c.Watch(ctx, id, func(s domain.JobStatus) {
		last = s
		fmt.Printf("\r%-100s", statusLine(s))
	})
	fmt.Println()
	if err != nil {
		return err
	}
	if last.State != domain.StateSucceeded {
		return fmt.Errorf("job %s ended %s", id, last.State)
	}
	return nil
}

func printReceipt(r *domain.AnchorReceipt) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"Tx", r.TxRef},
		{"Content hash", r.ContentHash},
		{"Status", r.Status},
		{"Confirmations", r.Confirmations},
		{"Submitted", r.SubmittedAt.Format(time.RFC3339)},
	})
	tw.Render()
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Header = text.FormatDefault
	return tw
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusLine(s domain.JobStatus) string {
	line := fmt.Sprintf("%s  %-9s pass %d/%d  %s / %s", s.JobID, s.State,
		s.PassIndex+1, s.PassCount, humanBytes(s.BytesWritten), humanBytes(s.TotalBytes))
	if s.TotalBytes > 0 {
		line += fmt.Sprintf(" (%.1f%%)", float64(s.BytesWritten)*100/float64(s.TotalBytes))
	}
	if s.Failure != nil {
		line += fmt.Sprintf("  %s at offset %d: %s", s.Failure.Kind, s.Failure.Offset, s.Failure.Cause)
	}
	return line
}

func deviceFlags(d domain.Device) string {
	var flags []string
	if d.IsSystemVolume {
		flags = append(flags, "system")
	}
	if d.InUseByJob != nil {
		flags = append(flags, "busy")
	}
	if d.RequiresReconfirmation {
		flags = append(flags, "reconfirm")
	}
	if d.Unverified {
		flags = append(flags, "unverified")
	}
	if d.Capabilities.HiddenAreaBytes > 0 {
		flags = append(flags, "hpa")
	}
	return strings.Join(flags, ",")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
