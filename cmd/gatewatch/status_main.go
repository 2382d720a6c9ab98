package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/sawpanic/gatewatch/internal/interfaces/http"
)

// runStatus queries a running monitor and prints the snapshot.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTP.ListenAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		return fmt.Errorf("monitor unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitor returned %s", resp.Status)
	}

	var st httpapi.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	frozen := ""
	if st.BaselineFrozen {
		frozen = " (frozen)"
	}
	fmt.Printf("%s %s on %s\n", st.Service, st.Version, st.CameraID)
	fmt.Printf("  date:     %s  phase %s\n", st.Date, st.Phase)
	fmt.Printf("  baseline: %d%s\n", st.Baseline, frozen)
	fmt.Printf("  present:  %d\n", st.Present)
	fmt.Printf("  missing:  %d\n", st.Missing)
	fmt.Printf("  events:   %d today (realtime %d in / %d out)\n", st.EventsToday, st.RealtimeIn, st.RealtimeOut)
	fmt.Printf("  uptime:   %s\n", (time.Duration(st.UptimeSec) * time.Second).String())

	if p := st.MissingPeriod; p != nil {
		fmt.Printf("  open missing period: %s session, %d min, %d missing\n", p.Session, p.DurationMin, p.Missing)
	}
	if a := st.LastAlert; a != nil {
		reason := ""
		if a.Reason != "" {
			reason = " (" + a.Reason + ")"
		}
		fmt.Printf("  last alert: %s, %d missing at %s%s\n", a.Status, a.Missing, a.At.Format("15:04"), reason)
	}
	if e := st.LastExport; e != nil {
		fmt.Printf("  last export: %s %s at %s\n", e.Kind, e.Result, e.At.Format("15:04:05"))
	}
	if len(st.Jobs) > 0 {
		fmt.Println("  jobs:")
		for _, j := range st.Jobs {
			fmt.Printf("    %-8s every %-6s next %s  runs %d\n", j.Name, j.Every, j.NextRun.Format("15:04:05"), j.Runs)
		}
	}
	return nil
}
