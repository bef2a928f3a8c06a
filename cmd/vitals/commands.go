package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/vitals/internal/api"
	"github.com/kalambet/vitals/internal/config"
	"github.com/kalambet/vitals/internal/session"
)

// currentSessionID returns the id of the user's latest session.
func currentSessionID(ctx context.Context, client *apiClient) (string, error) {
	resp, err := client.get(ctx, "/session")
	if err != nil {
		return "", err
	}
	var sum session.Summary
	if err := decodeJSON(resp, &sum); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("no session yet, run \"vitals session start\" first")
		}
		return "", err
	}
	return sum.Session.ID, nil
}

func printProgress(p session.Progress) {
	printStatus("Progress", "%s %d/%d (%d%%)", progressBar(p.Percent, 20), p.Answered, p.Total, p.Percent)
}

func printTurn(res session.TurnResult) {
	printAssistant(res.Reply)
	for _, a := range res.ExecutedActions {
		printSuccess("%s %s: %s", a.Type, a.SectionID, actionText(a.TargetText, a.NewText))
	}
	for _, p := range res.PendingActions {
		printWarning("needs confirmation [%s] %s %s: %s", p.ID, p.Action.Type, p.Action.SectionID, actionText(p.Action.TargetText, p.Action.NewText))
	}
	for _, r := range res.RejectedActions {
		printWarning("skipped %s %s: %s", r.Action.Type, r.Action.SectionID, r.Reason)
	}
	if res.Paused {
		printStep("Session paused. Run \"vitals session start\" to continue.")
	}
}

func actionText(target, newText string) string {
	switch {
	case target != "" && newText != "":
		return fmt.Sprintf("%q -> %q", target, newText)
	case newText != "":
		return fmt.Sprintf("%q", newText)
	default:
		return fmt.Sprintf("%q", target)
	}
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, inspect, pause or reset the profile conversation",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session or resume the latest one",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Reviewing your profile...")
		resp, err := client.post(cmd.Context(), "/session", nil)
		if err != nil {
			return err
		}

		var res session.StartResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if res.AnalyzerFallback {
			printWarning("Profile review unavailable, continuing with the question list")
		}
		printAssistant(res.Message)
		printProgress(res.Progress)
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current session and its recent messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/session")
		if err != nil {
			return err
		}

		var sum session.Summary
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}

		printStatus("Session", "%s (%s)", sum.Session.ID, sum.Session.Status)
		printProgress(sum.Progress)
		if sum.NextQuestion != nil {
			printStatus("Next", "[%s] %s", sum.NextQuestion.ID, sum.NextQuestion.Question)
		}
		for _, m := range sum.Messages {
			who := colorize(colorBold, "you")
			if m.Role == "assistant" {
				who = colorize(colorCyan, "vitals")
			}
			fmt.Printf("%s: %s\n", who, m.Content)
		}
		for _, p := range sum.PendingActions {
			printWarning("needs confirmation [%s] %s %s: %s", p.ID, p.Action.Type, p.Action.SectionID, actionText(p.Action.TargetText, p.Action.NewText))
		}
		return nil
	},
}

var sessionPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := currentSessionID(cmd.Context(), client)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/"+id+"/pause", nil)
		if err != nil {
			return err
		}
		var view session.View
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		printSuccess("Session %s paused", view.ID)
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all sessions and messages (profile and progress are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes every session and message. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/session")
		if err != nil {
			return err
		}
		var result struct {
			Sessions int `json:"sessions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d session(s)", result.Sessions)
		return nil
	},
}

func init() {
	sessionResetCmd.Flags().Bool("confirm", false, "confirm deletion")
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionPauseCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}

// --- say ---

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Send a message to the current session",
	Long: `Send a message to the current session.

Examples:
  vitals say "I'm 35 and about 172 cm tall"
  vitals say "skip this one"
  vitals say "save and stop"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := strings.TrimSpace(strings.Join(args, " "))
		if msg == "" {
			return fmt.Errorf("message is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := currentSessionID(cmd.Context(), client)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/"+id+"/turn", map[string]string{"message": msg})
		if err != nil {
			return err
		}
		var res session.TurnResult
		if err := decodeJSON(resp, &res); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
				return fmt.Errorf("%s; run \"vitals session start\" to resume", apiErr.Message)
			}
			return err
		}

		printTurn(res)
		printProgress(res.Progress)
		return nil
	},
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Confirm or reject profile changes awaiting confirmation",
}

func decideAction(cmd *cobra.Command, actionID, verb string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	id, err := currentSessionID(cmd.Context(), client)
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/session/"+id+"/actions/"+actionID+"/"+verb, nil)
	if err != nil {
		return err
	}
	if verb == "reject" {
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Rejected %s", actionID)
		return nil
	}

	var out session.Outcome
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	for _, a := range out.Executed {
		printSuccess("%s %s: %s", a.Type, a.SectionID, actionText(a.TargetText, a.NewText))
	}
	for _, r := range out.Rejected {
		printWarning("could not apply %s %s: %s", r.Action.Type, r.Action.SectionID, r.Reason)
	}
	return nil
}

var actionsConfirmCmd = &cobra.Command{
	Use:   "confirm <action-id>",
	Short: "Apply a pending profile change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideAction(cmd, args[0], "confirm")
	},
}

var actionsRejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Discard a pending profile change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideAction(cmd, args[0], "reject")
	},
}

func init() {
	actionsCmd.AddCommand(actionsConfirmCmd)
	actionsCmd.AddCommand(actionsRejectCmd)
}

// --- questions ---

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List the question catalog with your answered status",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/questions")
		if err != nil {
			return err
		}

		var result struct {
			Questions []session.QuestionStatus `json:"questions"`
			Progress  session.Progress         `json:"progress"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, q := range result.Questions {
			if q.Answered && !all {
				continue
			}
			mark := " "
			if q.Answered {
				mark = colorize(colorGreen, "✓")
			}
			fmt.Printf("%s %s  p%d  %s\n", mark, colorize(colorCyan, q.ID), q.Priority, q.Question.Question)
		}
		printProgress(result.Progress)
		return nil
	},
}

func init() {
	questionsCmd.Flags().Bool("all", false, "include answered questions")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show, import or edit the health profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile document",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var result struct {
			Sections json.RawMessage `json:"sections"`
			Document string          `json:"document"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			var v any
			if err := json.Unmarshal(result.Sections, &v); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		if strings.TrimSpace(result.Document) == "" {
			fmt.Println("Profile is empty.")
			return nil
		}
		fmt.Println(result.Document)
		return nil
	},
}

// importRequest reads a profile document from path. Files ending in .pdf are
// sent base64-encoded for server-side text extraction.
func importRequest(path string) (api.ImportRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.ImportRequest{}, fmt.Errorf("reading file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return api.ImportRequest{Type: "pdf", Content: base64.StdEncoding.EncodeToString(data)}, nil
	}
	return api.ImportRequest{Type: "text", Content: string(data)}, nil
}

var profileImportCmd = &cobra.Command{
	Use:   "import --file <path>",
	Short: "Merge a profile document (text, markdown or PDF) into the profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		req, err := importRequest(file)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/profile/import", req)
		if err != nil {
			return err
		}

		var res session.ImportResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Updated) == 0 {
			printWarning("No sections were updated")
		} else {
			printSuccess("Updated sections: %s", strings.Join(res.Updated, ", "))
		}
		for _, u := range res.Unmatched {
			printWarning("unmatched: %s", u)
		}
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <section-id> <content>",
	Short: "Replace the content of one profile section",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sectionID, content := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/profile/sections/"+sectionID, map[string]string{"content": content})
		if err != nil {
			return err
		}

		var sec struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &sec); err != nil {
			return err
		}

		printSuccess("Updated %s", sec.Title)
		return nil
	},
}

func init() {
	profileShowCmd.Flags().Bool("json", false, "print sections as JSON")
	profileImportCmd.Flags().String("file", "", "document to import (.txt, .md or .pdf)")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileImportCmd)
	profileCmd.AddCommand(profileSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
