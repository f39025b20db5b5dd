package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/inaiurai/bidengine/internal/auth"
	"github.com/inaiurai/bidengine/internal/models"
)

var (
	ledgerLimit   int
	loginUser     string
	bidMessage    string
	outputJSON    bool
	spendType     string
	spendAmount   float64
	spendReceiver string
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the bidding engine",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runControl(cmd, "start") },
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the bidding engine after the current cycle",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runControl(cmd, "stop") },
	})

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one bidding cycle now",
		RunE:  runCycle,
	}
	rootCmd.AddCommand(cycleCmd)

	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "List recent bids",
		RunE:  runLedger,
	}
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "number of records")
	rootCmd.AddCommand(ledgerCmd)

	markCmd := &cobra.Command{
		Use:   "mark BID_ID STATUS",
		Short: "Correct a bid's status (pending|won|lost|failed)",
		Args:  cobra.ExactArgs(2),
		RunE:  runMark,
	}
	markCmd.Flags().StringVar(&bidMessage, "message", "", "note stored with the bid")
	ledgerCmd.AddCommand(markCmd)

	oversightCmd := &cobra.Command{
		Use:   "oversight",
		Short: "List treasury spends awaiting approval",
		RunE:  runOversightList,
	}
	oversightCmd.AddCommand(&cobra.Command{
		Use:   "approve ID",
		Short: "Approve a pending spend",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runOversightDecision(cmd, args[0], "approve") },
	})
	oversightCmd.AddCommand(&cobra.Command{
		Use:   "reject ID",
		Short: "Reject a pending spend",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runOversightDecision(cmd, args[0], "reject") },
	})
	rootCmd.AddCommand(oversightCmd)

	spendCmd := &cobra.Command{
		Use:   "spend",
		Short: "Check a treasury spend against the oversight threshold",
		RunE:  runSpend,
	}
	spendCmd.Flags().StringVar(&spendType, "type", "transfer", "spend type")
	spendCmd.Flags().Float64Var(&spendAmount, "amount", 0, "amount")
	spendCmd.Flags().StringVar(&spendReceiver, "recipient", "", "recipient address")
	rootCmd.AddCommand(spendCmd)

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an operator token (password read from stdin or BIDCTL_PASSWORD)",
		RunE:  runLogin,
	}
	loginCmd.Flags().StringVar(&loginUser, "user", "operator", "operator username")
	rootCmd.AddCommand(loginCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for operator_password_hash (password read from stdin)",
		RunE:  runHashPassword,
	})
}

func client() *apiClient {
	return newAPIClient(serverURL, token)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	var st models.EngineStatus
	if _, err := client().do(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, st)
	}
	state := "stopped"
	if st.IsRunning {
		state = "running"
	}
	fmt.Fprintf(out, "Engine:      %s\n", state)
	fmt.Fprintf(out, "Cycles:      %d\n", st.CycleCount)
	if st.StartedAt != nil {
		fmt.Fprintf(out, "Started:     %s\n", humanize.Time(*st.StartedAt))
	}
	if st.LastCycleAt != nil {
		fmt.Fprintf(out, "Last cycle:  %s\n", humanize.Time(*st.LastCycleAt))
	}
	if st.IsRunning {
		fmt.Fprintf(out, "Next cycle:  in %s\n", time.Duration(st.SecondsUntilNextCycle)*time.Second)
	}
	if r := st.LastResult; r != nil {
		printSummary(out, r)
	}
	return nil
}

func printSummary(out io.Writer, s *models.CycleSummary) {
	if s.Skipped {
		fmt.Fprintf(out, "Cycle %d still in progress, no new cycle started\n", s.Cycle)
		return
	}
	fmt.Fprintf(out, "Cycle %d: %d discovered, %d open, %d new, %d submitted (%d ok, %d failed) in %dms\n",
		s.Cycle, s.TasksDiscovered, s.TasksOpen, s.TasksNew, s.Submitted, s.Succeeded, s.SubmissionsFailed, s.DurationMs)
	if s.FetchError != "" {
		fmt.Fprintf(out, "  fetch error: %s\n", s.FetchError)
	}
	if s.LedgerError != "" {
		fmt.Fprintf(out, "  ledger error: %s\n", s.LedgerError)
	}
	if len(s.Results) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TASK\tAGENT\tSCORE\tREWARD\tSTATUS\tMESSAGE")
	for _, r := range s.Results {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\t%s\n", r.TaskID, r.Agent, r.Score, humanize.Commaf(r.Reward), r.Status, r.Message)
	}
	w.Flush()
}

func runControl(cmd *cobra.Command, action string) error {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if _, err := client().do(cmd.Context(), http.MethodPost, "/control", map[string]string{"action": action}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func runCycle(cmd *cobra.Command, _ []string) error {
	var s models.CycleSummary
	if _, err := client().do(cmd.Context(), http.MethodPost, "/cycle", nil, &s); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), s)
	}
	printSummary(cmd.OutOrStdout(), &s)
	return nil
}

func runLedger(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Records []models.BidRecord `json:"records"`
		Stats   models.LedgerStats `json:"stats"`
	}
	path := "/ledger?limit=" + url.QueryEscape(fmt.Sprint(ledgerLimit))
	if _, err := client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, resp)
	}
	st := resp.Stats
	fmt.Fprintf(out, "%d bids: %d pending, %d won, %d lost, %d failed\n", st.Total, st.Pending, st.Won, st.Lost, st.Failed)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tAGENT\tAMOUNT\tSTATUS\tWHEN")
	for _, r := range resp.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.TaskID, r.Agent, humanize.Commaf(r.BidAmount), r.Status, humanize.Time(r.CreatedAt))
	}
	return w.Flush()
}

func runMark(cmd *cobra.Command, args []string) error {
	body := map[string]string{"status": args[1]}
	if bidMessage != "" {
		body["message"] = bidMessage
	}
	var rec models.BidRecord
	if _, err := client().do(cmd.Context(), http.MethodPatch, "/ledger/"+url.PathEscape(args[0]), body, &rec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", rec.ID, rec.Status)
	return nil
}

func runOversightList(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Requests []models.OversightRequest `json:"requests"`
	}
	if _, err := client().do(cmd.Context(), http.MethodGet, "/oversight", nil, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, resp)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAMOUNT\tSHARE\tSTATUS\tEXPIRES")
	for _, r := range resp.Requests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Spend.Type, humanize.Commaf(r.Spend.Amount),
			formatShare(float64(r.TreasuryPercentage)), r.Status, humanize.Time(r.ExpiresAt))
	}
	return w.Flush()
}

func formatShare(f float64) string {
	if f == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", f*100)
}

func runOversightDecision(cmd *cobra.Command, id, action string) error {
	var req models.OversightRequest
	if _, err := client().do(cmd.Context(), http.MethodPost, "/oversight/"+url.PathEscape(id)+"/"+action, nil, &req); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", req.ID, req.Status)
	return nil
}

func runSpend(cmd *cobra.Command, _ []string) error {
	if spendAmount <= 0 || spendReceiver == "" {
		return fmt.Errorf("--amount and --recipient are required")
	}
	var resp struct {
		Approved bool                     `json:"approved"`
		Request  *models.OversightRequest `json:"oversight_request"`
	}
	body := models.Spend{Type: spendType, Amount: spendAmount, Recipient: spendReceiver}
	status, err := client().do(cmd.Context(), http.MethodPost, "/treasury/spend", body, &resp)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if status == http.StatusAccepted && resp.Request != nil {
		fmt.Fprintf(out, "oversight required: request %s expires %s\n", resp.Request.ID, humanize.Time(resp.Request.ExpiresAt))
		return nil
	}
	fmt.Fprintln(out, "approved")
	return nil
}

func readSecret(cmd *cobra.Command, env string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty password")
	}
	return line, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	password, err := readSecret(cmd, "BIDCTL_PASSWORD")
	if err != nil {
		return err
	}
	var tok auth.Token
	body := map[string]string{"username": loginUser, "password": password}
	if _, err := newAPIClient(serverURL, "").do(cmd.Context(), http.MethodPost, "/auth/login", body, &tok); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
	fmt.Fprintf(cmd.ErrOrStderr(), "token expires %s; export BIDCTL_TOKEN to reuse it\n", humanize.Time(tok.ExpiresAt))
	return nil
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	password, err := readSecret(cmd, "BIDCTL_PASSWORD")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
