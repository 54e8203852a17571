/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/friendsincode/gclsync/internal/db"
	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/probe"
	"github.com/friendsincode/gclsync/internal/recordlog"
	"github.com/friendsincode/gclsync/internal/refresh"
	"github.com/friendsincode/gclsync/internal/server"
	"github.com/friendsincode/gclsync/internal/taprio"
	"github.com/friendsincode/gclsync/internal/version"
)

var (
	generateCount int
	applyRecord   bool
	probeCount    int
	probeSource   string
	probeTarget   string
	recordsLimit  int
	recordsStatus string
	recordsJSON   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print schedules and the tc commands that would install them",
	RunE:  runGenerate,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Run one refresh cycle against every switch and print the record",
	RunE:  runApply,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure latency and jitter between two hosts",
	RunE:  runProbe,
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List recent deployment records",
	RunE:  runRecords,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}

func init() {
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "number of schedules to generate")
	applyCmd.Flags().BoolVar(&applyRecord, "record", true, "append the record to the configured record stores")
	probeCmd.Flags().IntVarP(&probeCount, "count", "c", 0, "probes to send (default from topology)")
	probeCmd.Flags().StringVar(&probeSource, "source", "", "source host ID (default from topology)")
	probeCmd.Flags().StringVar(&probeTarget, "target", "", "target host ID (default from topology)")
	recordsCmd.Flags().IntVarP(&recordsLimit, "limit", "n", 20, "maximum records to list")
	recordsCmd.Flags().StringVar(&recordsStatus, "status", "", "only list records with this status")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "print JSON instead of a table")

	rootCmd.AddCommand(generateCmd, applyCmd, probeCmd, recordsCmd, versionCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	tk, err := server.NewToolkit(cfg, nil, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	opts := tk.Engine.Options()
	for i := 0; i < generateCount; i++ {
		schedule, err := tk.Strategy.Generate(cfg.CycleTime)
		if err != nil {
			return err
		}
		base := models.NewBaseTime(time.Now(), cfg.LeadMargin)
		if opts.ClockID == taprio.ClockTAI {
			base = base.Shift(cfg.TAIOffset)
		}
		fmt.Fprintf(out, "# %s %s\n", tk.Strategy.Name(), schedule.String())
		for _, target := range tk.Topology.Targets() {
			fmt.Fprintf(out, "%s: %s\n", target.ID, taprio.Command(cfg.TCBin, taprio.InstallArgs(target.Interface, schedule, base, opts)))
		}
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	tk, err := server.NewToolkit(cfg, nil, logger)
	if err != nil {
		return err
	}

	var sinks recordlog.Multi
	if applyRecord {
		if cfg.CSVLogPath != "" {
			sinks = append(sinks, recordlog.NewCSV(cfg.CSVLogPath))
		}
		database, err := db.Connect(cfg)
		if err != nil {
			return err
		}
		defer db.Close(database)
		if err := db.Migrate(database); err != nil {
			return err
		}
		sinks = append(sinks, recordlog.NewDB(database))
	}

	loop, err := refresh.New(refresh.Deps{
		Strategy: tk.Strategy,
		Deployer: tk.Engine,
		Measurer: tk.Prober,
		Topology: tk.Topology,
		Sink:     sinks,
	}, server.LoopConfig(cfg, tk.Topology), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := loop.Cycle(ctx)
	if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
		return err
	}
	if !rec.Succeeded() {
		return fmt.Errorf("cycle finished with status %s", rec.Status)
	}
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	tk, err := server.NewToolkit(cfg, nil, logger)
	if err != nil {
		return err
	}

	pair := tk.Topology.Probe()
	if probeSource != "" {
		pair.Source = probeSource
	}
	if probeTarget != "" {
		pair.Target = probeTarget
	}
	count := cfg.ProbeCount
	if pair.Count > 0 {
		count = pair.Count
	}
	if probeCount > 0 {
		count = probeCount
	}

	source, err := tk.Topology.Host(pair.Source)
	if err != nil {
		return err
	}
	target, err := tk.Topology.Host(pair.Target)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := tk.Prober.SampleLatencyJitter(ctx, source, target, count)
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d/%d replies, latency %s ms, jitter %s ms\n",
		source.ID, target.ID, stats.Received, stats.Sent, formatMs(stats.LatencyMs), formatMs(stats.JitterMs))
	return err
}

func runRecords(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return err
	}

	records, err := recordlog.NewDB(database).List(cmd.Context(), recordsLimit, models.DeploymentStatus(recordsStatus))
	if err != nil {
		return err
	}
	if recordsJSON {
		return printJSON(cmd.OutOrStdout(), records)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"TIME", "SCHEDULER", "STATUS", "APPLIED", "LATENCY", "JITTER", "ADHERENCE", "SCHEDULE"})
	for _, rec := range records {
		table.Append([]string{
			rec.Timestamp.Local().Format(time.DateTime),
			rec.SchedulerName,
			string(rec.Status),
			fmt.Sprintf("%d/%d", rec.TargetsApplied, rec.TargetsTotal),
			formatMs(rec.LatencyMs),
			formatMs(rec.JitterMs),
			time.Duration(rec.AdherenceNs).String(),
			rec.Schedule,
		})
	}
	table.Render()
	return nil
}

func formatMs(v float64) string {
	if v == probe.NoData {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
